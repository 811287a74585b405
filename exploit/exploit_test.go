package exploit

import (
	"testing"

	"autograph.dev/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearerProfile() model.TargetProfile {
	return model.TargetProfile{
		Name:          "juice_shop",
		BaseURL:       "https://target.test",
		AuthMechanism: model.AuthBearerToken,
		LoginEndpoint: "/rest/user/login",
		UserA:         model.Credential{Identifier: "a@test.com", Password: "pw-a"},
		UserB:         model.Credential{Identifier: "b@test.com", Password: "pw-b"},
	}
}

func cookieProfile() model.TargetProfile {
	p := bearerProfile()
	p.AuthMechanism = model.AuthSessionCookie
	p.ExtraLoginFields = map[string]string{"_csrf": "token-value"}
	return p
}

func TestIDORWalkProducesThreeSteps(t *testing.T) {
	steps, err := IDORWalk(bearerProfile(), "/api/Users/1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, model.PhaseObserve, steps[2].Phase)
	assert.Equal(t, 0, steps[2].Parameters["capture_group"])
}

func TestIDORWalkUsesLiteralCredentialsNotPlaceholders(t *testing.T) {
	steps, err := IDORWalk(bearerProfile(), "/api/Users/1")
	require.NoError(t, err)
	body := steps[0].Parameters["body"].(map[string]any)
	assert.Equal(t, "a@test.com", body["email"])
	assert.Equal(t, "pw-a", body["password"])
}

func TestAuthStripSetsSkipCookiesForCookieAuth(t *testing.T) {
	steps, err := AuthStrip(cookieProfile(), "/api/orders")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, true, steps[0].Parameters["skip_cookies"])
}

func TestAuthStripOmitsSkipCookiesForBearerAuth(t *testing.T) {
	steps, err := AuthStrip(bearerProfile(), "/api/orders")
	require.NoError(t, err)
	_, present := steps[0].Parameters["skip_cookies"]
	assert.False(t, present)
}

func TestTokenSwapRaisesIncompatibleForCookieAuth(t *testing.T) {
	_, err := TokenSwap(cookieProfile(), "/api/orders/1")
	require.Error(t, err)
	var incompatible *IncompatibleExploitError
	assert.ErrorAs(t, err, &incompatible)
}

func TestTokenSwapProducesLoginAThenLoginBThenAccess(t *testing.T) {
	steps, err := TokenSwap(bearerProfile(), "/api/orders/1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "login_user_a", steps[0].Command)
	assert.Equal(t, "login_user_b", steps[1].Command)
	assert.Equal(t, "cross_account_access", steps[2].Command)
}

func TestNamespaceProbeAccessesTarget(t *testing.T) {
	steps, err := NamespaceProbe(bearerProfile(), "/admin/users")
	require.NoError(t, err)
	last := steps[len(steps)-1]
	assert.Equal(t, "/admin/users", last.Parameters["path"])
	assert.Equal(t, model.PhaseObserve, last.Phase)
}

func TestRoleTamperElevatesThenExercisesAdminCapability(t *testing.T) {
	steps, err := RoleTamper(bearerProfile(), "/admin/dashboard")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	body := steps[0].Parameters["body"].(map[string]any)
	assert.Equal(t, "admin", body["role"])
	assert.Equal(t, model.PhaseObserve, steps[1].Phase)
}

func TestIDORWalkFetchesAndExtractsCSRFTokenForCookieAuth(t *testing.T) {
	steps, err := IDORWalk(cookieProfile(), "/api/Users/1")
	require.NoError(t, err)
	require.Len(t, steps, 5, "fetch_login_page, extract_csrf_token, login, idor_access, extract_sensitive_fields")

	assert.Equal(t, "fetch_login_page_user_a", steps[0].Command)
	assert.Equal(t, "GET", steps[0].Parameters["method"])

	assert.Equal(t, "extract_csrf_token_user_a", steps[1].Command)
	assert.Equal(t, model.PhaseAnalyze, steps[1].Phase)

	body := steps[2].Parameters["body"].(map[string]any)
	assert.Equal(t, "{{previous_outputs[-1]}}", body["_csrf"])
}

func TestIDORWalkOmitsCSRFPrepWhenNoCSRFFieldConfigured(t *testing.T) {
	steps, err := IDORWalk(bearerProfile(), "/api/Users/1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "login_user_a", steps[0].Command)
}

func TestRoleTamperFetchesCSRFTokenForCookieAuth(t *testing.T) {
	steps, err := RoleTamper(cookieProfile(), "/admin/dashboard")
	require.NoError(t, err)
	require.Len(t, steps, 4, "fetch_login_page, extract_csrf_token, role_elevation_attempt, admin_capability_exercise")

	assert.Equal(t, "fetch_login_page_role_tamper", steps[0].Command)
	assert.Equal(t, "role_elevation_attempt", steps[2].Command)
	body := steps[2].Parameters["body"].(map[string]any)
	assert.Equal(t, "{{previous_outputs[-1]}}", body["_csrf"])
	assert.Equal(t, "admin_capability_exercise", steps[3].Command)
}

func TestRegistryHasAllFiveGenerators(t *testing.T) {
	for _, typ := range []model.ExploitType{
		model.ExploitIDORWalk, model.ExploitAuthStrip, model.ExploitTokenSwap,
		model.ExploitNamespaceProbe, model.ExploitRoleTamper,
	} {
		gen, ok := Registry[typ]
		require.True(t, ok, "missing generator for %s", typ)
		assert.NotNil(t, gen)
	}
}

package config

import "autograph.dev/model"

// builtinProfiles holds the TargetProfile records named in spec §6's
// TARGET_PROFILE discriminator. Credentials are the well-known seeded test
// accounts each project ships in its own fixtures, not secrets.
var builtinProfiles = map[string]model.TargetProfile{
	"juice_shop": {
		Name:          "juice_shop",
		AuthMechanism: model.AuthBearerToken,
		LoginEndpoint: "/rest/user/login",
		UserA:         model.Credential{Identifier: "user-a@juice-sh.op", Password: "userA-pass"},
		UserB:         model.Credential{Identifier: "user-b@juice-sh.op", Password: "userB-pass"},
	},
	"nodegoat": {
		Name:          "nodegoat",
		AuthMechanism: model.AuthSessionCookie,
		LoginEndpoint: "/login",
		UserA:         model.Credential{Identifier: "user1", Password: "User1_123"},
		UserB:         model.Credential{Identifier: "user2", Password: "User2_123"},
		ExtraLoginFields: map[string]string{
			"_csrf": "",
		},
	},
	"dvwa": {
		Name:          "dvwa",
		AuthMechanism: model.AuthSessionCookie,
		LoginEndpoint: "/login.php",
		UserA:         model.Credential{Identifier: "admin", Password: "password"},
		UserB:         model.Credential{Identifier: "gordonb", Password: "abc123"},
		ExtraLoginFields: map[string]string{
			"Login": "Login",
		},
	},
}

// UnknownTargetProfileError is raised when TARGET_PROFILE names a profile
// this core does not ship a built-in record for.
type UnknownTargetProfileError struct {
	Name string
}

func (e *UnknownTargetProfileError) Error() string {
	return "config: unknown target profile " + e.Name
}

// ResolveTargetProfile looks up a built-in TargetProfile by name and
// overrides BaseURL with baseURL, which always comes from configuration
// (the built-in records never hardcode a host).
func ResolveTargetProfile(name, baseURL string) (model.TargetProfile, error) {
	profile, ok := builtinProfiles[name]
	if !ok {
		return model.TargetProfile{}, &UnknownTargetProfileError{Name: name}
	}
	profile.BaseURL = baseURL
	return profile, nil
}

package config

import (
	"time"

	"github.com/spf13/viper"
)

// Auth auth config struct
type Auth struct {
	JWT              *JWT
	RevocationPolicy string
	BridgeTimeout    time.Duration
}

func getAuthConfig(v *viper.Viper) *Auth {
	v.SetDefault("auth.revocation_policy", "replacement")
	v.SetDefault("auth.bridge_timeout", 3*time.Second)
	return &Auth{
		JWT:              getJWT(v),
		RevocationPolicy: v.GetString("auth.revocation_policy"),
		BridgeTimeout:    v.GetDuration("auth.bridge_timeout"),
	}
}

// JWT jwt config struct
type JWT struct {
	Secret string
	Expire time.Duration
}

func getJWT(v *viper.Viper) *JWT {
	v.SetDefault("auth.jwt.expire", 7*24*time.Hour)
	return &JWT{
		Secret: v.GetString("auth.jwt.secret"),
		Expire: v.GetDuration("auth.jwt.expire"),
	}
}

package config

import "github.com/spf13/viper"

// Gateway gateway config struct
type Gateway struct {
	AuthServiceURL string
	Resolver       string
	Upstreams      map[string]string
	PublicPrefixes []string
}

func getGatewayConfig(v *viper.Viper) *Gateway {
	v.SetDefault("gateway.resolver", "http")
	return &Gateway{
		AuthServiceURL: v.GetString("gateway.auth_service_url"),
		Resolver:       v.GetString("gateway.resolver"),
		Upstreams:      v.GetStringMapString("gateway.upstreams"),
		PublicPrefixes: v.GetStringSlice("gateway.public_prefixes"),
	}
}

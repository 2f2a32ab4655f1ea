package integration

import "stratflow/internal/platform/config"

// ProvidersFromConfig 内置的三个上游：Tatum、Dodoex、Aave
func ProvidersFromConfig(cfg config.IntegrationsConfig) []Provider {
	return []Provider{
		{Name: "tatum", Service: "Tatum.io", URL: cfg.Tatum.URL, APIKey: cfg.Tatum.APIKey, Auth: AuthAPIKey},
		{Name: "dodoex", Service: "Dodoex.io", URL: cfg.Dodoex.URL, APIKey: cfg.Dodoex.APIKey, Auth: AuthBearer},
		{Name: "aave", Service: "Aave Special Lever", URL: cfg.Aave.URL, APIKey: cfg.Aave.APIKey, Auth: AuthBearer},
	}
}

// Package appconfig is the Go SDK for the Velum App Configuration service.
//
// A client resolves features and configuration properties for an entity (a
// user, device or request) against a configuration snapshot that is either
// synchronized live from the service or loaded from a local document:
//
//	client, err := appconfig.NewClient(ctx, appconfig.Config{
//		APIKey:        os.Getenv("VELUM_API_KEY"),
//		ServiceURL:    "https://eu-gb.appconfiguration.cloud.velum.io",
//		GUID:          "4a8b2c91-instance",
//		EnvironmentID: "production",
//		CollectionID:  "web",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	feature, err := client.Feature("dark-mode")
//	if err != nil {
//		return err
//	}
//	enabled, err := feature.IsEnabled(appconfig.Entity{
//		ID:         "user-42",
//		Attributes: map[string]any{"plan": "beta"},
//	})
//
// Offline clients evaluate a static document with the same engine and never
// touch the network:
//
//	client, err := appconfig.NewOfflineClient(appconfig.OfflineConfig{
//		Path:          "testdata/appconfig.json",
//		EnvironmentID: "dev",
//		CollectionID:  "default",
//	})
package appconfig

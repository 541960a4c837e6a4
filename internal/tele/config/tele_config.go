// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	PrivateKeyFile     string `hcl:"private_key_file"`
	Algorithm          string `hcl:"algorithm"`
	CloudRegion        string `hcl:"cloud_region"`
	CaCerts            string `hcl:"ca_certs"`
	MqttBridgeHostname string `hcl:"mqtt_bridge_hostname"`
	MqttBridgePort     int    `hcl:"mqtt_bridge_port"`
	// single source of truth for token lifetime
	JwtExpiresMinutes int  `hcl:"jwt_expires_minutes"`
	KeepaliveSec      int  `hcl:"keepalive_sec"`
	NetworkTimeoutSec int  `hcl:"network_timeout_sec"`
	MqttLogDebug      bool `hcl:"mqtt_log_debug"`
	// Broker URL scheme, "ssl" in production. Tests use "tcp" against local broker.
	Scheme string `hcl:"scheme"`

	// filled from top level config
	ProjectID  string `hcl:"-"`
	RegistryID string `hcl:"-"`
	DeviceID   string `hcl:"-"`
}

package state

import (
	"flag"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/internal/credential"
	tele_config "github.com/temoto/airq/internal/tele/config"
	"github.com/temoto/airq/log2"
)

const (
	DefaultIntervalSec       = 30 * 60
	DefaultSettleSec         = 30
	DefaultReadTimeoutSec    = 10
	DefaultLockPath          = "/run/lock/airq.lock"
	DefaultSerialDevice      = "/dev/ttyUSB0"
	DefaultPrivateKeyFile    = "../.ssh/ec_private.pem"
	DefaultCaCerts           = "/home/pi/.ssh/roots.pem"
	DefaultCloudRegion       = "europe-west1"
	DefaultBridgeHostname    = "mqtt.googleapis.com"
	DefaultBridgePort        = 8883
	DefaultJwtExpiresMinutes = 60
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	ProjectID   string `hcl:"project_id"`
	RegistryID  string `hcl:"registry_id"`
	DeviceID    string `hcl:"device_id"`
	IntervalSec int    `hcl:"interval_sec"`
	SettleSec   int    `hcl:"settle_sec"`
	LockPath    string `hcl:"lock_path"`
	LogDebug    bool   `hcl:"log_debug"`

	Serial struct {
		Device         string `hcl:"device"`
		Baud           int    `hcl:"baud"`
		ReadLength     int    `hcl:"read_len"`
		ReadTimeoutSec int    `hcl:"read_timeout_sec"`
		Decode         string `hcl:"decode"`
	} `hcl:"serial"`

	Tele tele_config.Config `hcl:"tele"`
	// accept any bridge port, for local bridge emulator
	AllowAnyPort bool `hcl:"allow_any_port"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func NewConfig() *Config {
	c := &Config{includeSeen: make(map[string]struct{})}
	c.IntervalSec = DefaultIntervalSec
	c.SettleSec = DefaultSettleSec
	c.LockPath = DefaultLockPath
	c.Serial.Device = DefaultSerialDevice
	c.Serial.Baud = sds011.DefaultBaud
	c.Serial.ReadLength = sds011.ResponseLength
	c.Serial.ReadTimeoutSec = DefaultReadTimeoutSec
	c.Serial.Decode = "lenient"
	c.Tele.PrivateKeyFile = DefaultPrivateKeyFile
	c.Tele.Algorithm = credential.AlgorithmES256
	c.Tele.CloudRegion = DefaultCloudRegion
	c.Tele.CaCerts = DefaultCaCerts
	c.Tele.MqttBridgeHostname = DefaultBridgeHostname
	c.Tele.MqttBridgePort = DefaultBridgePort
	c.Tele.JwtExpiresMinutes = DefaultJwtExpiresMinutes
	return c
}

func (c *Config) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }
func (c *Config) Settle() time.Duration   { return time.Duration(c.SettleSec) * time.Second }
func (c *Config) JwtLifetime() time.Duration {
	return time.Duration(c.Tele.JwtExpiresMinutes) * time.Minute
}

func (c *Config) DecodeMode() sds011.DecodeMode {
	mode, _ := sds011.ParseDecodeMode(c.Serial.Decode)
	return mode
}

// Finalize copies identity into sections that need it. Call after all sources and flags.
func (c *Config) Finalize() {
	c.Tele.ProjectID = c.ProjectID
	c.Tele.RegistryID = c.RegistryID
	c.Tele.DeviceID = c.DeviceID
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	for _, x := range []struct{ name, value string }{
		{"project_id", c.ProjectID},
		{"registry_id", c.RegistryID},
		{"device_id", c.DeviceID},
	} {
		if x.value == "" {
			errs = append(errs, errors.NotValidf("config %s empty,", x.name))
		}
	}
	switch c.Tele.Algorithm {
	case credential.AlgorithmRS256, credential.AlgorithmES256:
	default:
		errs = append(errs, errors.NotValidf("config tele.algorithm=%q expected RS256|ES256", c.Tele.Algorithm))
	}
	switch port := c.Tele.MqttBridgePort; {
	case port == 8883 || port == 443:
	case c.AllowAnyPort && port > 0 && port < 1<<16:
	default:
		errs = append(errs, errors.NotValidf("config tele.mqtt_bridge_port=%d expected 8883|443", port))
	}
	if c.Tele.JwtExpiresMinutes <= 0 {
		errs = append(errs, errors.NotValidf("config tele.jwt_expires_minutes=%d must be positive", c.Tele.JwtExpiresMinutes))
	}
	if c.SettleSec < 0 {
		errs = append(errs, errors.NotValidf("config settle_sec=%d negative", c.SettleSec))
	}
	if c.IntervalSec > 0 && c.SettleSec >= c.IntervalSec {
		errs = append(errs, errors.NotValidf("config settle_sec=%d must be less than interval_sec=%d", c.SettleSec, c.IntervalSec))
	}
	if c.Serial.ReadLength < sds011.MinReadLength {
		errs = append(errs, errors.NotValidf("config serial.read_len=%d less than %d", c.Serial.ReadLength, sds011.MinReadLength))
	}
	if _, err := sds011.ParseDecodeMode(c.Serial.Decode); err != nil {
		errs = append(errs, errors.Annotate(err, "config serial.decode"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig applies sources in order over defaults. Missing source is error unless name is empty.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	c := NewConfig()
	if len(names) == 0 || names[0] == "" {
		return c, nil
	}
	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

// BindFlags registers command line names of the cron script era.
// Values are applied by ApplyFlags only for flags given explicitly.
func BindFlags(fs *flag.FlagSet) {
	d := NewConfig()
	fs.String("project_id", "", "cloud project name")
	fs.String("registry_id", "", "device registry id")
	fs.String("device_id", "", "device id")
	fs.Int("interval", d.IntervalSec/60, "measurement interval in minutes, must exceed settle time")
	fs.Int("settle", d.SettleSec, "sensor settle delay in seconds")
	fs.String("private_key_file", d.Tele.PrivateKeyFile, "path to private key file")
	fs.String("algorithm", d.Tele.Algorithm, "JWT algorithm RS256|ES256")
	fs.String("cloud_region", d.Tele.CloudRegion, "cloud region")
	fs.String("ca_certs", d.Tele.CaCerts, "CA roots PEM file")
	fs.String("mqtt_bridge_hostname", d.Tele.MqttBridgeHostname, "MQTT bridge hostname")
	fs.Int("mqtt_bridge_port", d.Tele.MqttBridgePort, "MQTT bridge port 8883|443")
	fs.Int("jwt_expires_minutes", d.Tele.JwtExpiresMinutes, "JWT lifetime in minutes")
	fs.String("serial", d.Serial.Device, "sensor serial device")
	fs.String("decode", d.Serial.Decode, "response decoding lenient|strict")
	fs.String("lock", d.LockPath, "single instance lock file")
	fs.Bool("debug", false, "debug logging")
}

func (c *Config) ApplyFlags(fs *flag.FlagSet) error {
	errs := make([]error, 0)
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		var err error
		switch f.Name {
		case "project_id":
			c.ProjectID = v
		case "registry_id":
			c.RegistryID = v
		case "device_id":
			c.DeviceID = v
		case "interval":
			var minutes int
			minutes, err = parseInt(v)
			c.IntervalSec = minutes * 60
		case "settle":
			c.SettleSec, err = parseInt(v)
		case "private_key_file":
			c.Tele.PrivateKeyFile = v
		case "algorithm":
			c.Tele.Algorithm = strings.ToUpper(v)
		case "cloud_region":
			c.Tele.CloudRegion = v
		case "ca_certs":
			c.Tele.CaCerts = v
		case "mqtt_bridge_hostname":
			c.Tele.MqttBridgeHostname = v
		case "mqtt_bridge_port":
			c.Tele.MqttBridgePort, err = parseInt(v)
		case "jwt_expires_minutes":
			c.Tele.JwtExpiresMinutes, err = parseInt(v)
		case "serial":
			c.Serial.Device = v
		case "decode":
			c.Serial.Decode = v
		case "lock":
			c.LockPath = v
		case "debug":
			c.LogDebug = v == "true"
		}
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "flag -%s", f.Name))
		}
	})
	return helpers.FoldErrors(errs)
}

func parseInt(s string) (int, error) {
	x, err := strconv.Atoi(s)
	return x, errors.Trace(err)
}

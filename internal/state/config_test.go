package state

import (
	"context"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"defaults", `include "ids" {}`, func(t testing.TB, ctx context.Context) {
			c := GetGlobal(ctx).Config
			assert.Equal(t, 30*time.Minute, c.Interval())
			assert.Equal(t, 30*time.Second, c.Settle())
			assert.Equal(t, 60*time.Minute, c.JwtLifetime())
			assert.Equal(t, sds011.DecodeLenient, c.DecodeMode())
			assert.Equal(t, DefaultSerialDevice, c.Serial.Device)
			assert.Equal(t, sds011.DefaultBaud, c.Serial.Baud)
			assert.Equal(t, DefaultBridgeHostname, c.Tele.MqttBridgeHostname)
			assert.Equal(t, DefaultBridgePort, c.Tele.MqttBridgePort)
			assert.Equal(t, credential.AlgorithmES256, c.Tele.Algorithm)
		}, ""},

		{"identity-finalized", `include "ids" {}`, func(t testing.TB, ctx context.Context) {
			c := GetGlobal(ctx).Config
			assert.Equal(t, "proj", c.Tele.ProjectID)
			assert.Equal(t, "reg", c.Tele.RegistryID)
			assert.Equal(t, "dev", c.Tele.DeviceID)
		}, ""},

		{"sections", `
include "ids" {}
settle_sec = 5
serial { device = "/dev/ttyAMA0" decode = "strict" read_len = 6 }
tele { algorithm = "RS256" jwt_expires_minutes = 20 mqtt_bridge_port = 443 }`,
			func(t testing.TB, ctx context.Context) {
				c := GetGlobal(ctx).Config
				assert.Equal(t, 5*time.Second, c.Settle())
				assert.Equal(t, "/dev/ttyAMA0", c.Serial.Device)
				assert.Equal(t, sds011.DecodeStrict, c.DecodeMode())
				assert.Equal(t, 6, c.Serial.ReadLength)
				assert.Equal(t, credential.AlgorithmRS256, c.Tele.Algorithm)
				assert.Equal(t, 20*time.Minute, c.JwtLifetime())
				assert.Equal(t, 443, c.Tele.MqttBridgePort)
			}, ""},

		{"include-normalize", `
include "ids" {}
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "ids" {}
include "settle-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7*time.Second, GetGlobal(ctx).Config.Settle())
			}, ""},

		{"include-overwrites", `
include "ids" {}
settle_sec = 1
include "settle-7" {}`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7*time.Second, GetGlobal(ctx).Config.Settle())
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-identity", ``, nil, "config project_id empty"},
		{"error-algorithm", `include "ids" {} tele { algorithm = "HS256" }`, nil, "tele.algorithm=\"HS256\""},
		{"error-port", `include "ids" {} tele { mqtt_bridge_port = 1883 }`, nil, "mqtt_bridge_port=1883"},
		{"allow-any-port", `include "ids" {} allow_any_port = true tele { mqtt_bridge_port = 1883 }`, nil, ""},
		{"error-settle", `include "ids" {} interval_sec = 60 settle_sec = 60`, nil, "settle_sec=60 must be less than interval_sec=60"},
		{"error-jwt-lifetime", `include "ids" {} tele { jwt_expires_minutes = 0 }`, nil, "jwt_expires_minutes=0"},
		{"error-decode", `include "ids" {} serial { decode = "fuzzy" }`, nil, "serial.decode"},
		{"error-read-len", `include "ids" {} serial { read_len = 4 }`, nil, "serial.read_len=4"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"ids":          `project_id = "proj" registry_id = "reg" device_id = "dev"`,
				"settle-7":     "settle_sec = 7",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, mkCheck(c))
	}
}

func TestReadConfigEmptyName(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	c, err := ReadConfig(log, NewMockFullReader(nil), "")
	assert.NoError(t, err)
	assert.Equal(t, NewConfig().Tele, c.Tele)
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{
		"airq.hcl": `project_id = "file-proj" registry_id = "reg" device_id = "dev" settle_sec = 9`,
	})
	c, err := ReadConfig(log, fs, "airq.hcl")
	assert.NoError(t, err)

	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(flags)
	err = flags.Parse([]string{
		"-project_id=flag-proj",
		"-interval=10",
		"-algorithm=rs256",
		"-mqtt_bridge_port=443",
		"-decode=strict",
		"-debug",
	})
	assert.NoError(t, err)
	assert.NoError(t, c.ApplyFlags(flags))

	assert.Equal(t, "flag-proj", c.ProjectID)
	// not given on command line, file value stays
	assert.Equal(t, "reg", c.RegistryID)
	assert.Equal(t, 9*time.Second, c.Settle())
	assert.Equal(t, 10*time.Minute, c.Interval())
	assert.Equal(t, credential.AlgorithmRS256, c.Tele.Algorithm)
	assert.Equal(t, 443, c.Tele.MqttBridgePort)
	assert.Equal(t, sds011.DecodeStrict, c.DecodeMode())
	assert.True(t, c.LogDebug)
	c.Finalize()
	assert.NoError(t, c.Validate())
	assert.Equal(t, "flag-proj", c.Tele.ProjectID)
}

func TestValidateFoldsErrors(t *testing.T) {
	t.Parallel()
	c := NewConfig()
	c.Tele.Algorithm = "none"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	s := err.Error()
	for _, expect := range []string{"project_id", "registry_id", "device_id", "tele.algorithm"} {
		assert.Contains(t, s, expect)
	}
}

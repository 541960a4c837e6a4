// Package measure converts sensor readings to wire payload published to the bridge.
package measure

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
)

// TimeLayout of timecollected field, always UTC.
const TimeLayout = "2006-01-02 15:04:05"

type Measurement struct {
	SensorID    string
	UniqueID    string
	CollectedAt time.Time
	PM25        float64
	PM10        float64
}

// Field names are the contract with downstream consumers, order is irrelevant.
type wireMeasurement struct {
	SensorID      *string  `json:"sensorID"`
	UniqueID      *string  `json:"uniqueID"`
	TimeCollected *string  `json:"timecollected"`
	PM25          *float64 `json:"pmtwofive"`
	PM10          *float64 `json:"pmten"`
}

func SensorID(registryID, deviceID string) string { return registryID + "." + deviceID }

// NewUniqueID is random per reading, suffixed with sensor id.
func NewUniqueID(sensorID string) string { return uuid.New().String() + "-" + sensorID }

// FromReading never fails. CollectedAt is UTC with second precision, same as wire format.
func FromReading(raw sds011.RawReading, sensorID string, now time.Time) Measurement {
	return Measurement{
		SensorID:    sensorID,
		UniqueID:    NewUniqueID(sensorID),
		CollectedAt: now.UTC().Truncate(time.Second),
		PM25:        raw.PM25(),
		PM10:        raw.PM10(),
	}
}

func (self Measurement) String() string {
	return fmt.Sprintf("sensor=%s id=%s time=%s pm2.5=%.1f pm10=%.1f",
		self.SensorID, self.UniqueID, self.CollectedAt.Format(TimeLayout), self.PM25, self.PM10)
}

func (self Measurement) MarshalJSON() ([]byte, error) {
	tc := self.CollectedAt.UTC().Format(TimeLayout)
	return json.Marshal(wireMeasurement{
		SensorID:      &self.SensorID,
		UniqueID:      &self.UniqueID,
		TimeCollected: &tc,
		PM25:          &self.PM25,
		PM10:          &self.PM10,
	})
}

func (self *Measurement) UnmarshalJSON(b []byte) error {
	var w wireMeasurement
	if err := json.Unmarshal(b, &w); err != nil {
		return errors.Annotate(err, "measurement")
	}
	switch {
	case w.SensorID == nil:
		return errors.NotValidf("measurement sensorID missing,")
	case w.UniqueID == nil:
		return errors.NotValidf("measurement uniqueID missing,")
	case w.TimeCollected == nil:
		return errors.NotValidf("measurement timecollected missing,")
	case w.PM25 == nil:
		return errors.NotValidf("measurement pmtwofive missing,")
	case w.PM10 == nil:
		return errors.NotValidf("measurement pmten missing,")
	}
	t, err := time.ParseInLocation(TimeLayout, *w.TimeCollected, time.UTC)
	if err != nil {
		return errors.NewNotValid(err, "measurement timecollected")
	}
	*self = Measurement{
		SensorID:    *w.SensorID,
		UniqueID:    *w.UniqueID,
		CollectedAt: t,
		PM25:        *w.PM25,
		PM10:        *w.PM10,
	}
	return nil
}

func Serialize(m Measurement) ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Annotate(err, "measurement serialize")
}

func Deserialize(payload []byte) (Measurement, error) {
	var m Measurement
	err := json.Unmarshal(payload, &m)
	return m, errors.Trace(err)
}

// Package fitenc turns a local activity and its detail stream into a FIT
// activity file, the payload vendors accept for upload.
package fitenc

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/marcus/actsync/internal/models"
)

// Product is the FIT product id written into the file_id message.
const Product = 1

// semicirclesPerDegree converts WGS84 degrees to FIT semicircles.
const semicirclesPerDegree = float64(1<<31) / 180

// Encoder is a stateless FIT encoder.
type Encoder struct{}

// Encode implements the sync engine's encoder contract.
func (Encoder) Encode(a *models.LocalActivity, stream models.DetailStream) ([]byte, error) {
	return Encode(a, stream)
}

// Filename implements the sync engine's encoder contract.
func (Encoder) Filename(a *models.LocalActivity) string {
	return Filename(a)
}

// Filename returns the upload file name for an activity.
func Filename(a *models.LocalActivity) string {
	return fmt.Sprintf("%d.fit", a.ID)
}

// Encode builds a FIT activity file: file_id, start event, one record per
// sample, stop event, one lap, one session and the activity message.
func Encode(a *models.LocalActivity, stream models.DetailStream) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode: nil activity")
	}
	if a.StartDate.IsZero() {
		return nil, fmt.Errorf("encode activity %d: %w: missing start date", a.ID, models.ErrLocalData)
	}

	start := a.StartDate.UTC()
	elapsed := a.ElapsedTime
	if last := lastOffset(stream); float64(last) > elapsed {
		elapsed = float64(last)
	}
	if elapsed <= 0 {
		elapsed = a.MovingTime
	}
	timer := a.MovingTime
	if timer <= 0 {
		timer = elapsed
	}
	end := start.Add(time.Duration(elapsed * float64(time.Second)))
	sp := sportFor(a.Type)

	fit := &proto.FIT{Messages: make([]proto.Message, 0, len(stream)+6)}

	fit.Messages = append(fit.Messages, mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(Product).
		SetSerialNumber(uint32(a.ID)).
		SetTimeCreated(start).
		ToMesg(nil))

	fit.Messages = append(fit.Messages, mesgdef.NewEvent(nil).
		SetTimestamp(start).
		SetEvent(typedef.EventTimer).
		SetEventType(typedef.EventTypeStart).
		ToMesg(nil))

	for i := range stream {
		fit.Messages = append(fit.Messages, record(start, &stream[i]).ToMesg(nil))
	}

	fit.Messages = append(fit.Messages, mesgdef.NewEvent(nil).
		SetTimestamp(end).
		SetEvent(typedef.EventTimer).
		SetEventType(typedef.EventTypeStopAll).
		ToMesg(nil))

	lap := mesgdef.NewLap(nil).
		SetTimestamp(end).
		SetStartTime(start).
		SetTotalElapsedTime(millis(elapsed)).
		SetTotalTimerTime(millis(timer)).
		SetTotalDistance(centimeters(a.Distance)).
		SetSport(sp.sport).
		SetSubSport(sp.subSport).
		SetMessageIndex(0)
	if a.AverageHeartrate != nil {
		lap.SetAvgHeartRate(clampUint8(*a.AverageHeartrate))
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	session := mesgdef.NewSession(nil).
		SetTimestamp(end).
		SetStartTime(start).
		SetTotalElapsedTime(millis(elapsed)).
		SetTotalTimerTime(millis(timer)).
		SetTotalDistance(centimeters(a.Distance)).
		SetSport(sp.sport).
		SetSubSport(sp.subSport).
		SetFirstLapIndex(0).
		SetNumLaps(1).
		SetMessageIndex(0)
	if a.AverageHeartrate != nil {
		session.SetAvgHeartRate(clampUint8(*a.AverageHeartrate))
	}
	if a.AverageSpeed != nil {
		session.SetEnhancedAvgSpeed(uint32(math.Round(*a.AverageSpeed * 1000)))
	}
	if a.ElevationGain != nil && *a.ElevationGain > 0 {
		session.SetTotalAscent(uint16(math.Min(math.Round(*a.ElevationGain), math.MaxUint16-1)))
	}
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	fit.Messages = append(fit.Messages, mesgdef.NewActivity(nil).
		SetTimestamp(end).
		SetTotalTimerTime(millis(timer)).
		SetType(typedef.ActivityManual).
		SetEvent(typedef.EventActivity).
		SetEventType(typedef.EventTypeStop).
		SetNumSessions(1).
		ToMesg(nil))

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(fit); err != nil {
		return nil, fmt.Errorf("encode activity %d: %w", a.ID, err)
	}
	return buf.Bytes(), nil
}

func record(start time.Time, s *models.DetailSample) *mesgdef.Record {
	r := mesgdef.NewRecord(nil).SetTimestamp(start.Add(time.Duration(s.TimeOffset) * time.Second))
	if s.Lat != nil && s.Lng != nil {
		r.SetPositionLat(semicircles(*s.Lat))
		r.SetPositionLong(semicircles(*s.Lng))
	}
	if s.Altitude != nil {
		// FIT altitude: (meters + 500) * 5
		r.SetEnhancedAltitude(uint32(math.Max(0, math.Round((*s.Altitude+500)*5))))
	}
	if s.HeartRate != nil {
		r.SetHeartRate(clampUint8(*s.HeartRate))
	}
	if s.Cadence != nil {
		r.SetCadence(clampUint8(*s.Cadence))
	}
	if s.Speed != nil && *s.Speed >= 0 {
		r.SetEnhancedSpeed(uint32(math.Round(*s.Speed * 1000)))
	}
	if s.Power != nil && *s.Power >= 0 {
		r.SetPower(uint16(math.Min(math.Round(*s.Power), math.MaxUint16-1)))
	}
	if s.Distance != nil && *s.Distance >= 0 {
		r.SetDistance(centimeters(*s.Distance))
	}
	return r
}

func lastOffset(stream models.DetailStream) int64 {
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].TimeOffset
}

func semicircles(deg float64) int32 {
	return int32(math.Round(deg * semicirclesPerDegree))
}

func millis(secs float64) uint32 {
	if secs <= 0 {
		return 0
	}
	return uint32(math.Round(secs * 1000))
}

func centimeters(m float64) uint32 {
	if m <= 0 {
		return 0
	}
	return uint32(math.Round(m * 100))
}

// clampUint8 keeps a value below 0xFF, FIT's invalid marker for uint8.
func clampUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	return uint8(math.Min(math.Round(v), math.MaxUint8-1))
}

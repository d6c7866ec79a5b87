package model

import "time"

type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Time      time.Time `json:"time"`
}

// BatteryEvent mirrors the platform battery broadcast. Plugged is the power
// source code reported by the platform, zero when on battery.
type BatteryEvent struct {
	Level     int  `json:"level"`
	Plugged   int  `json:"plugged"`
	PowerSave bool `json:"power_save"`
}

func (e BatteryEvent) Charging() bool { return e.Plugged != 0 }

type Transition string

const (
	TransitionEnter Transition = "enter"
	TransitionExit  Transition = "exit"
	TransitionDwell Transition = "dwell"
)

type GeofenceEvent struct {
	Transition Transition `json:"transition"`
	RegionIDs  []string   `json:"region_ids,omitempty"`
	ErrorCode  int        `json:"error_code,omitempty"`
}

type Permission string

const (
	PermLocation   Permission = "location"
	PermSMS        Permission = "sms"
	PermPhoneState Permission = "phone_state"
	PermCall       Permission = "call"
)

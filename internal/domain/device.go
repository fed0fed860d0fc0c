package domain

type DeviceKind string

const (
	DeviceAudioInput DeviceKind = "audioinput"
	DeviceVideoInput DeviceKind = "videoinput"
	DeviceDisplay    DeviceKind = "display"
)

type Device struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

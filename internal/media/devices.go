package media

// DeviceKind partitions capture/playback devices the way the device selector
// presents them.
type DeviceKind string

const (
	DeviceKindCamera     DeviceKind = "camera"
	DeviceKindMicrophone DeviceKind = "microphone"
	DeviceKindSpeaker    DeviceKind = "speaker"
)

// Device describes one input or output device.
type Device struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DeviceList is the platform's device inventory partitioned by kind.
type DeviceList struct {
	Cameras     []Device `json:"cameras"`
	Microphones []Device `json:"microphones"`
	Speakers    []Device `json:"speakers"`
}

// Empty reports whether no devices of any kind were found.
func (l DeviceList) Empty() bool {
	return len(l.Cameras) == 0 && len(l.Microphones) == 0 && len(l.Speakers) == 0
}

// Partition buckets devices by kind, preserving order.
func Partition(devices []Device) DeviceList {
	var list DeviceList
	for _, d := range devices {
		switch d.Kind {
		case DeviceKindCamera:
			list.Cameras = append(list.Cameras, d)
		case DeviceKindMicrophone:
			list.Microphones = append(list.Microphones, d)
		case DeviceKindSpeaker:
			list.Speakers = append(list.Speakers, d)
		}
	}
	return list
}

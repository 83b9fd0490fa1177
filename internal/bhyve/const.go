package bhyve

// Device types reported by the vendor API.
const (
	DeviceSprinkler = "sprinkler_timer"
	DeviceFlood     = "flood_sensor"
	DeviceBridge    = "bridge"
)

// Websocket event kinds.
const (
	EventBatteryStatus      = "battery_status"
	EventChangeMode         = "change_mode"
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventDeviceIdle         = "device_idle"
	EventFSStatusUpdate     = "fs_status_update"
	EventProgramChanged     = "program_changed"
	EventRainDelay          = "rain_delay"
	EventSetManualPreset    = "set_manual_preset_runtime"
	EventWateringComplete   = "watering_complete"
	EventWateringInProgress = "watering_in_progress"
)

// Program letter assigned by the vendor to smart watering programs.
const ProgramSmartWatering = "e"

// Default endpoints.
const (
	DefaultBaseURL = "https://api.orbitbhyve.com/v1"
	DefaultWSURL   = "wss://api.orbitbhyve.com/v1/events"
)

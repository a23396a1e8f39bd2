package types

// AccountProfile identifies an account on a specific relay server.
type AccountProfile struct {
	ServerURL string   `json:"server_url"`
	Username  Username `json:"username"`
	DeviceID  DeviceID `json:"device_id"`
	Canary    string   `json:"canary"`
	// Registered is set once the prekey bundle has been accepted by the relay.
	Registered bool `json:"registered"`
	// PushEnabled mirrors whether the relay can wake this client; when it is
	// off the websocket must stay up even in the background.
	PushEnabled bool `json:"push_enabled"`
}

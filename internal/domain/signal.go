package domain

// Signaling event names. The relay fans these out to every room subscriber
// except the sender.
const (
	EventKeyExchange = "key_exchange"
	EventMessage     = "message"
	EventUserLeft    = "user_left"
	EventRTCOffer    = "webrtc_offer"
	EventRTCAnswer   = "webrtc_answer"
	EventRTCICE      = "webrtc_ice"
	EventFileFrame   = "file_frame"
)

// EncryptedPayload is the universal wire representation for any encrypted
// unit: a message, a wrapped key or a file chunk. A fresh nonce is drawn for
// every seal; a nonce is never reused under the same key.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// KeyExchange announces a participant's ephemeral public key.
type KeyExchange struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	PublicKey []byte `json:"publicKey"`
}

// ChatMessage carries one sealed text message.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Timestamp  int64  `json:"timestamp"`
}

// UserLeft is the best-effort leave notification.
type UserLeft struct {
	SessionID string `json:"sessionId"`
}

// RTCSignal relays one sealed offer/answer/ICE candidate. The relay never
// sees plaintext connection metadata.
type RTCSignal struct {
	SessionID  string `json:"sessionId"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

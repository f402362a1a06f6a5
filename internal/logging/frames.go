package logging

import "go.uber.org/zap"

// FrameLogger logs the plaintext of every wire frame in both directions,
// the TALK2ME_LOG=on behaviour. It is off unless explicitly enabled and
// must never be on in production: the plaintext includes passwords.
type FrameLogger struct {
	log     *zap.Logger
	enabled bool
}

// NewFrameLogger wraps the given logger. When enabled is false every
// method is a no-op.
func NewFrameLogger(log *zap.Logger, enabled bool) *FrameLogger {
	return &FrameLogger{log: log, enabled: enabled}
}

// Received logs one decrypted inbound frame.
func (f *FrameLogger) Received(plaintext []byte) {
	if !f.enabled {
		return
	}
	f.log.Info("frame", zap.String("dir", "received"), zap.ByteString("plaintext", plaintext))
}

// Sent logs one outbound frame before encryption.
func (f *FrameLogger) Sent(plaintext []byte) {
	if !f.enabled {
		return
	}
	f.log.Info("frame", zap.String("dir", "sent"), zap.ByteString("plaintext", plaintext))
}

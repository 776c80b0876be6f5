package types

// Version is the canonical project version.
// The CLI, the capture format and the wire protocol helpers share this version.
const Version = "0.3.0"

// CaptureVersion is the session capture format version written into every
// capture header. Bumped only when the frame layout changes.
const CaptureVersion = "1"

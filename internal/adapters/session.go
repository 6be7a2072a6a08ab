package adapters

// Fingerprint identifies the model configuration a session was created with.
type Fingerprint struct {
	Model     string
	Reasoning string
}

func (f Fingerprint) String() string {
	model := f.Model
	if model == "" {
		model = "default"
	}
	if f.Reasoning == "" {
		return model
	}
	return model + "/" + f.Reasoning
}

// Session is an agent conversation handle. The zero value is "no session".
type Session struct {
	handle      string
	fingerprint Fingerprint
}

// NewSession returns an active session; an empty handle yields no session.
func NewSession(handle string, fp Fingerprint) Session {
	if handle == "" {
		return Session{}
	}
	return Session{handle: handle, fingerprint: fp}
}

// Active reports whether the session holds a handle.
func (s Session) Active() bool { return s.handle != "" }

// Handle returns the executor-specific conversation id.
func (s Session) Handle() string { return s.handle }

// Fingerprint returns the configuration the session was created with.
func (s Session) Fingerprint() Fingerprint { return s.fingerprint }

// For returns the session when it may continue under fp. Otherwise it returns no session and
// reports whether an active handle had to be discarded.
func (s Session) For(fp Fingerprint) (next Session, discarded bool) {
	if !s.Active() {
		return Session{}, false
	}
	if s.fingerprint != fp {
		return Session{}, true
	}
	return s, false
}

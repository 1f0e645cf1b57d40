package sdbus

import "testing"

// stubMsg is a minimal Message for exercising match evaluation.
type stubMsg struct {
	Message
	kind   MessageKind
	path   ObjectPath
	iface  string
	member string
	sender string
}

func (s stubMsg) Kind() MessageKind { return s.kind }
func (s stubMsg) Path() ObjectPath  { return s.path }
func (s stubMsg) Interface() string { return s.iface }
func (s stubMsg) Member() string    { return s.member }
func (s stubMsg) Sender() string    { return s.sender }

func TestMatchString(t *testing.T) {
	tests := []struct {
		m    *Match
		want string
	}{
		{MatchAllSignals(), "type='signal'"},
		{MatchSignal("com.example.X", "Frobbed"),
			"type='signal',interface='com.example.X',member='Frobbed'"},
		{MatchAllSignals().Sender(":1.7").Object("/a/b"),
			"type='signal',sender=':1.7',path='/a/b'"},
		{MatchAllSignals().ObjectPrefix("/a"),
			"type='signal',path_namespace='/a'"},
	}
	for _, tc := range tests {
		if got := tc.m.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestMatchMatches(t *testing.T) {
	sig := stubMsg{
		kind:   MsgSignal,
		path:   "/a/b",
		iface:  "com.example.X",
		member: "Frobbed",
		sender: ":1.7",
	}

	tests := []struct {
		desc string
		m    *Match
		msg  stubMsg
		want bool
	}{
		{"all signals", MatchAllSignals(), sig, true},
		{"exact signal", MatchSignal("com.example.X", "Frobbed"), sig, true},
		{"wrong member", MatchSignal("com.example.X", "Other"), sig, false},
		{"wrong interface", MatchSignal("com.example.Y", "Frobbed"), sig, false},
		{"sender", MatchAllSignals().Sender(":1.7"), sig, true},
		{"wrong sender", MatchAllSignals().Sender(":1.8"), sig, false},
		{"exact path", MatchAllSignals().Object("/a/b"), sig, true},
		{"wrong path", MatchAllSignals().Object("/a"), sig, false},
		{"prefix", MatchAllSignals().ObjectPrefix("/a"), sig, true},
		{"prefix self", MatchAllSignals().ObjectPrefix("/a/b"), sig, true},
		{"prefix not component", MatchAllSignals().ObjectPrefix("/a/bc"), sig, false},
		{"not a signal", MatchAllSignals(), stubMsg{kind: MsgMethodCall}, false},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			if got := tc.m.Matches(tc.msg); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

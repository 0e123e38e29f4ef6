package collab

// wsBroadcaster fans frames out over the connection manager, using the
// session registry's note index for room sends. An optional tap mirrors room
// events onto the relay bus.
type wsBroadcaster struct {
	mgr *ConnManager
	reg *SessionRegistry
	tap EventTap // nil when the relay is off
}

func NewBroadcaster(mgr *ConnManager, reg *SessionRegistry, tap EventTap) Broadcaster {
	return &wsBroadcaster{mgr: mgr, reg: reg, tap: tap}
}

func (b *wsBroadcaster) SendToSession(sessionID, event string, payload any) {
	b.mgr.SendOne(sessionID, EncodeFrame(event, payload))
}

func (b *wsBroadcaster) SendToRoom(noteID, event string, payload any, except ...string) {
	raw := EncodeFrame(event, payload)
	skip := make(map[string]struct{}, len(except))
	for _, sid := range except {
		skip[sid] = struct{}{}
	}
	for _, sid := range b.reg.SessionsInNote(noteID) {
		if _, ok := skip[sid]; ok {
			continue
		}
		b.mgr.SendOne(sid, raw)
	}
	if b.tap != nil {
		b.tap.Publish(noteID, event, payload)
	}
}

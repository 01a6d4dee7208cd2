package service

import (
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
)

const (
	RoomBuild   = "build"
	RoomProject = "project"
)

// Publisher delivers a message to every session subscribed to kind/id.
// Implementations must not block on slow sessions.
type Publisher interface {
	Publish(kind, id string, msg any)
}

// StatusNotifier pushes full post-update snapshots with storage locations
// already rewritten to proxy references.
type StatusNotifier struct {
	pub      Publisher
	resolver *BlobResolver
}

func NewStatusNotifier(pub Publisher, resolver *BlobResolver) *StatusNotifier {
	return &StatusNotifier{pub: pub, resolver: resolver}
}

func (n *StatusNotifier) BuildUpdated(b *model.Build) {
	n.publish(RoomBuild, model.WSMessageTypeBuildUpdate, b.ID, b)
}

func (n *StatusNotifier) ProjectUpdated(p *model.Project) {
	n.publish(RoomProject, model.WSMessageTypeProjectUpdate, p.ID, p)
}

func (n *StatusNotifier) publish(kind, msgType, id string, snapshot any) {
	if n == nil || n.pub == nil {
		return
	}
	data, err := n.resolver.Publicize(snapshot)
	if err != nil {
		logging.Error().Err(err).Str("room", kind).Str("id", id).Msg("failed to prepare update")
		return
	}
	n.pub.Publish(kind, id, model.WSUpdateMessage{Type: msgType, ID: id, Data: data})
}

// Package endpoints holds the business handlers for every request type and
// wires them into the registry.
package endpoints

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-huddle/internal/engine"
	"github.com/a-essam23/go-huddle/internal/protocol"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/store"
)

// Response types sent by the handlers, directly or to the channel.
const (
	ResponseParticipants        = "Participants"
	ResponseMeeting             = "Meeting"
	ResponseProtocol            = "Protocol"
	ResponseProtocolDeleted     = "ProtocolDeleted"
	ResponseProtocolItem        = "ProtocolItem"
	ResponseProtocolItemDeleted = "ProtocolItemDeleted"
	ResponseItemAction          = "ItemAction"
	ResponseItemActionDeleted   = "ItemActionDeleted"
	ResponseNote                = "Note"
	ResponseNoteDeleted         = "NoteDeleted"
	ResponseTopic               = "Topic"
	ResponseTopicDeleted        = "TopicDeleted"
)

type Deps struct {
	Logger    *slog.Logger
	Store     store.Store
	State     state.Manager
	Phases    *protocol.Engine
	JWTSecret string
}

type handlers struct {
	logger    *slog.Logger
	store     store.Store
	state     state.Manager
	phases    *protocol.Engine
	jwtSecret string
}

// Register binds every request type to its chain.
func Register(r *engine.Registry, d Deps) {
	h := &handlers{
		logger:    d.Logger.With(slog.String("component", "endpoints")),
		store:     d.Store,
		state:     d.State,
		phases:    d.Phases,
		jwtSecret: d.JWTSecret,
	}

	identify := engine.AttachIdentity(d.Store)
	member := engine.RequireChannel()
	user := engine.RequireIdentity()

	// session & meeting
	r.Register("Authenticate", engine.Validate[authenticateBody]("token"), pipeline.Handle(h.authenticate))
	r.Register("CreateMeeting", engine.Validate[createMeetingBody]("title"), identify, user, pipeline.Handle(h.createMeeting))
	r.Register("JoinMeeting", engine.Validate[joinMeetingBody]("meetingId"), identify, pipeline.Handle(h.joinMeeting))
	r.Register("LeaveMeeting", member, pipeline.Handle(h.leaveMeeting))
	r.Register("GetMeeting", member, pipeline.Handle(h.getMeeting))
	r.Register("GetParticipants", member, pipeline.Handle(h.getParticipants))
	r.Register("SetCurrentProtocol", engine.Validate[setCurrentProtocolBody](), identify, user, member, pipeline.Handle(h.setCurrentProtocol))

	// notes & topics
	r.Register("GetNotes", member, pipeline.Handle(h.getNotes))
	r.Register("CreateNote", engine.Validate[createNoteBody]("content"), identify, user, member, pipeline.Handle(h.createNote))
	r.Register("UpdateNote", engine.Validate[updateNoteBody]("id", "content"), identify, user, member, pipeline.Handle(h.updateNote))
	r.Register("DeleteNote", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.deleteNote))
	r.Register("GetTopics", member, pipeline.Handle(h.getTopics))
	r.Register("CreateTopic", engine.Validate[createTopicBody]("title"), identify, user, member, pipeline.Handle(h.createTopic))
	r.Register("UpdateTopic", engine.Validate[updateTopicBody]("id"), identify, user, member, pipeline.Handle(h.updateTopic))
	r.Register("DeleteTopic", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.deleteTopic))

	// protocols
	r.Register("CreateProtocol", engine.Validate[createProtocolBody]("phases"), identify, user, member, pipeline.Handle(h.createProtocol))
	r.Register("GetProtocol", engine.Validate[idBody]("id"), member, pipeline.Handle(h.getProtocol))
	r.Register("DeleteProtocol", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.deleteProtocol))
	r.Register("AdvanceProtocol", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.advanceProtocol))
	r.Register("RetreatProtocol", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.retreatProtocol))

	r.Register("CreateProtocolItem", engine.Validate[createItemBody]("protocolId", "content"), identify, user, member, pipeline.Handle(h.createItem))
	r.Register("UpdateProtocolItem", engine.Validate[updateItemBody]("id"), identify, user, member, pipeline.Handle(h.updateItem))
	r.Register("DeleteProtocolItem", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.deleteItem))
	r.Register("DeleteProtocolItems", engine.Validate[idsBody]("ids"), identify, user, member, pipeline.Handle(h.deleteItems))
	r.Register("CreateItemAction", engine.Validate[createActionBody]("itemId", "kind"), identify, user, member, pipeline.Handle(h.createAction))
	r.Register("DeleteItemAction", engine.Validate[idBody]("id"), identify, user, member, pipeline.Handle(h.deleteAction))

	h.logger.Info("Endpoints registered", slog.Int("count", len(r.RequestTypes())))
}

// lookupErr turns a store miss into a not-found fault and wraps anything else.
func lookupErr(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fault.NotFound("%s '%s' not found", what, id)
	}
	return fmt.Errorf("failed to load %s '%s': %w", what, id, err)
}

func requireOwner(req pipeline.Request, createdBy, what, id string) error {
	if createdBy != req.UserID {
		return fault.Authorization("only the creator may modify %s '%s'", what, id)
	}
	return nil
}

// inMeeting hides records of other meetings behind a not-found fault.
func inMeeting(req pipeline.Request, meetingID, what, id string) error {
	if meetingID != req.ChannelID {
		return fault.NotFound("%s '%s' not found", what, id)
	}
	return nil
}

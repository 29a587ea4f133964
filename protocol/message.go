package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MemberId is the host-owned stable numeric identity of a participant.
type MemberId = int64

// UnknownMember is sent as initiator when the local identity is not yet known.
const UnknownMember MemberId = -1

type Kind = string

const (
	KindInvite       Kind = "invite"
	KindResponse     Kind = "response"
	KindForceStart   Kind = "forceStart"
	KindTennisScore  Kind = "tennisScore"
	KindRoomInvite   Kind = "roomInvite"
	KindRoomResponse Kind = "roomResponse"
	KindRoomForce    Kind = "roomForce"
	KindRoomNpcSync  Kind = "roomNpcSync"
	KindRoomSimClose Kind = "roomSimClose"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Message is the closed set of payloads exchanged between two peers. Only types in
// this package implement it.
type Message interface {
	GetKind() Kind
	isMessage()
}

type BaseMessage struct {
	Kind Kind `json:"kind"`
}

func (m BaseMessage) GetKind() Kind { return m.Kind }
func (m BaseMessage) isMessage()    {}

type InviteMessage struct {
	BaseMessage
	Id            string   `json:"id"`
	GameId        string   `json:"gameId"`
	Initiator     MemberId `json:"initiator"`
	Target        MemberId `json:"target"`
	InitiatorName string   `json:"initiatorName"`
	MatchId       string   `json:"matchId,omitempty"`
}

type ResponseMessage struct {
	BaseMessage
	Id       string `json:"id"`
	GameId   string `json:"gameId"`
	Accepted bool   `json:"accepted"`
	MatchId  string `json:"matchId,omitempty"`
}

type ForceStartMessage struct {
	BaseMessage
	GameId    string   `json:"gameId"`
	Initiator MemberId `json:"initiator"`
	MatchId   string   `json:"matchId,omitempty"`
}

// TennisScoreMessage carries absolute score values, never deltas. LeftMember and
// RightMember tell the receiver which seat each value belongs to.
type TennisScoreMessage struct {
	BaseMessage
	GameId      string   `json:"gameId,omitempty"`
	MatchId     string   `json:"matchId"`
	LeftMember  MemberId `json:"leftMember"`
	RightMember MemberId `json:"rightMember"`
	LeftPoints  int      `json:"leftPoints"`
	RightPoints int      `json:"rightPoints"`
}

type RoomInviteMessage struct {
	BaseMessage
	Id            string   `json:"id"`
	RoomId        string   `json:"roomId"`
	Initiator     MemberId `json:"initiator"`
	Target        MemberId `json:"target"`
	InitiatorName string   `json:"initiatorName"`
}

type RoomResponseMessage struct {
	BaseMessage
	Id       string `json:"id"`
	RoomId   string `json:"roomId"`
	Accepted bool   `json:"accepted"`
}

type RoomForceMessage struct {
	BaseMessage
	RoomId    string   `json:"roomId"`
	Initiator MemberId `json:"initiator"`
}

// NpcSnapshot describes one locally-known non-player character as shown in a simulated room.
type NpcSnapshot struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	Nickname   string `json:"nickname,omitempty"`
	Title      string `json:"title,omitempty"`
	Appearance string `json:"appearance"`
	LabelColor string `json:"labelColor,omitempty"`
}

type RoomNpcSyncMessage struct {
	BaseMessage
	RoomId string        `json:"roomId"`
	Owner  MemberId      `json:"owner"`
	Npcs   []NpcSnapshot `json:"npcs"`
}

type RoomSimCloseMessage struct {
	BaseMessage
	RoomId string `json:"roomId"`
}

func NewInviteMessage(id, gameId string, initiator, target MemberId, initiatorName, matchId string) *InviteMessage {
	return &InviteMessage{
		BaseMessage:   BaseMessage{Kind: KindInvite},
		Id:            id,
		GameId:        gameId,
		Initiator:     initiator,
		Target:        target,
		InitiatorName: initiatorName,
		MatchId:       matchId,
	}
}

func NewResponseMessage(id, gameId string, accepted bool, matchId string) *ResponseMessage {
	return &ResponseMessage{
		BaseMessage: BaseMessage{Kind: KindResponse},
		Id:          id,
		GameId:      gameId,
		Accepted:    accepted,
		MatchId:     matchId,
	}
}

func NewForceStartMessage(gameId string, initiator MemberId, matchId string) *ForceStartMessage {
	return &ForceStartMessage{
		BaseMessage: BaseMessage{Kind: KindForceStart},
		GameId:      gameId,
		Initiator:   initiator,
		MatchId:     matchId,
	}
}

func NewTennisScoreMessage(gameId, matchId string, leftMember, rightMember MemberId, left, right int) *TennisScoreMessage {
	return &TennisScoreMessage{
		BaseMessage: BaseMessage{Kind: KindTennisScore},
		GameId:      gameId,
		MatchId:     matchId,
		LeftMember:  leftMember,
		RightMember: rightMember,
		LeftPoints:  left,
		RightPoints: right,
	}
}

func NewRoomInviteMessage(id, roomId string, initiator, target MemberId, initiatorName string) *RoomInviteMessage {
	return &RoomInviteMessage{
		BaseMessage:   BaseMessage{Kind: KindRoomInvite},
		Id:            id,
		RoomId:        roomId,
		Initiator:     initiator,
		Target:        target,
		InitiatorName: initiatorName,
	}
}

func NewRoomResponseMessage(id, roomId string, accepted bool) *RoomResponseMessage {
	return &RoomResponseMessage{
		BaseMessage: BaseMessage{Kind: KindRoomResponse},
		Id:          id,
		RoomId:      roomId,
		Accepted:    accepted,
	}
}

func NewRoomForceMessage(roomId string, initiator MemberId) *RoomForceMessage {
	return &RoomForceMessage{
		BaseMessage: BaseMessage{Kind: KindRoomForce},
		RoomId:      roomId,
		Initiator:   initiator,
	}
}

func NewRoomNpcSyncMessage(roomId string, owner MemberId, npcs []NpcSnapshot) *RoomNpcSyncMessage {
	return &RoomNpcSyncMessage{
		BaseMessage: BaseMessage{Kind: KindRoomNpcSync},
		RoomId:      roomId,
		Owner:       owner,
		Npcs:        npcs,
	}
}

func NewRoomSimCloseMessage(roomId string) *RoomSimCloseMessage {
	return &RoomSimCloseMessage{
		BaseMessage: BaseMessage{Kind: KindRoomSimClose},
		RoomId:      roomId,
	}
}

// ParseMessage decodes a JSON payload into its concrete message type. Payloads with an
// unrecognised kind yield ErrUnknownKind, which callers are expected to ignore.
func ParseMessage(data []byte) (Message, error) {
	var raw BaseMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode message kind: %w", err)
	}

	var msg Message
	switch raw.Kind {
	case KindInvite:
		msg = &InviteMessage{}
	case KindResponse:
		msg = &ResponseMessage{}
	case KindForceStart:
		msg = &ForceStartMessage{}
	case KindTennisScore:
		msg = &TennisScoreMessage{}
	case KindRoomInvite:
		msg = &RoomInviteMessage{}
	case KindRoomResponse:
		msg = &RoomResponseMessage{}
	case KindRoomForce:
		msg = &RoomForceMessage{}
	case KindRoomNpcSync:
		msg = &RoomNpcSyncMessage{}
	case KindRoomSimClose:
		msg = &RoomSimCloseMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", raw.Kind, err)
	}
	return msg, nil
}

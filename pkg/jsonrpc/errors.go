package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ErrorCode is the numeric code of a JSON-RPC error object.
type ErrorCode int

// Standard JSON-RPC 2.0 codes.
const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
)

// Room and queue codes, shared with the backend.
const (
	CodeRoomNotFound      ErrorCode = 4001
	CodeRoomFull          ErrorCode = 4002
	CodeRoomClosed        ErrorCode = 4003
	CodeUserNotInRoom     ErrorCode = 4004
	CodeUserAlreadyInRoom ErrorCode = 4005
	CodeQueueFull         ErrorCode = 4006
	CodeNotCurrentDJ      ErrorCode = 4007
	CodeInvalidVote       ErrorCode = 4008
)

// Authentication codes.
const (
	CodeUnauthorized       ErrorCode = 4101
	CodeTokenExpired       ErrorCode = 4102
	CodeForbidden          ErrorCode = 4103
	CodeInvalidCredentials ErrorCode = 4104
)

// Media codes.
const (
	CodeMediaNotFound      ErrorCode = 4201
	CodeMediaUnavailable   ErrorCode = 4202
	CodeMediaProviderError ErrorCode = 4203
)

// Playlist codes.
const (
	CodePlaylistNotFound     ErrorCode = 4301
	CodePlaylistFull         ErrorCode = 4302
	CodePlaylistItemNotFound ErrorCode = 4303
)

// User codes.
const (
	CodeUserNotFound  ErrorCode = 4401
	CodeUserBanned    ErrorCode = 4402
	CodeUsernameTaken ErrorCode = 4403
)

// Category groups error codes by the part of the system that raised them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryProtocol
	CategoryServer
	CategoryAuthentication
	CategoryRoom
	CategoryMedia
	CategoryPlaylist
	CategoryUser
)

func (c Category) String() string {
	switch c {
	case CategoryProtocol:
		return "protocol"
	case CategoryServer:
		return "server"
	case CategoryAuthentication:
		return "authentication"
	case CategoryRoom:
		return "room"
	case CategoryMedia:
		return "media"
	case CategoryPlaylist:
		return "playlist"
	case CategoryUser:
		return "user"
	default:
		return "unknown"
	}
}

type codeInfo struct {
	name     string
	category Category
}

var codeTable = map[ErrorCode]codeInfo{
	CodeParseError:     {"parse_error", CategoryProtocol},
	CodeInvalidRequest: {"invalid_request", CategoryProtocol},
	CodeMethodNotFound: {"method_not_found", CategoryProtocol},
	CodeInvalidParams:  {"invalid_params", CategoryProtocol},
	CodeInternalError:  {"internal_error", CategoryProtocol},

	CodeRoomNotFound:      {"room_not_found", CategoryRoom},
	CodeRoomFull:          {"room_full", CategoryRoom},
	CodeRoomClosed:        {"room_closed", CategoryRoom},
	CodeUserNotInRoom:     {"user_not_in_room", CategoryRoom},
	CodeUserAlreadyInRoom: {"user_already_in_room", CategoryRoom},
	CodeQueueFull:         {"queue_full", CategoryRoom},
	CodeNotCurrentDJ:      {"not_current_dj", CategoryRoom},
	CodeInvalidVote:       {"invalid_vote", CategoryRoom},

	CodeUnauthorized:       {"unauthorized", CategoryAuthentication},
	CodeTokenExpired:       {"token_expired", CategoryAuthentication},
	CodeForbidden:          {"forbidden", CategoryAuthentication},
	CodeInvalidCredentials: {"invalid_credentials", CategoryAuthentication},

	CodeMediaNotFound:      {"media_not_found", CategoryMedia},
	CodeMediaUnavailable:   {"media_unavailable", CategoryMedia},
	CodeMediaProviderError: {"media_provider_error", CategoryMedia},

	CodePlaylistNotFound:     {"playlist_not_found", CategoryPlaylist},
	CodePlaylistFull:         {"playlist_full", CategoryPlaylist},
	CodePlaylistItemNotFound: {"playlist_item_not_found", CategoryPlaylist},

	CodeUserNotFound:  {"user_not_found", CategoryUser},
	CodeUserBanned:    {"user_banned", CategoryUser},
	CodeUsernameTaken: {"username_taken", CategoryUser},
}

// Name returns the symbolic name of c, or "code_<n>" for codes outside the table.
func (c ErrorCode) Name() string {
	if info, ok := codeTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Category returns the band c belongs to.
func (c ErrorCode) Category() Category {
	if info, ok := codeTable[c]; ok {
		return info.category
	}
	if c >= -32099 && c <= -32000 {
		return CategoryServer
	}
	return CategoryUnknown
}

// Error is the JSON-RPC error object. It is returned as-is to callers so they can branch on Code.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError builds an error object; data may be nil.
func NewError(code ErrorCode, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := marshalParams(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %s (code %d, %s)", e.Message, int(e.Code), e.Code.Name())
}

// Is matches any *Error with the same code, so errors.Is(err, &Error{Code: CodeRoomFull}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// DecodeData unmarshals the optional data member into v.
func (e *Error) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

package server

import (
	"database/sql"

	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/types"
)

// messageParams converts a validated publish draft into store insert
// parameters. The sender's display name is denormalized onto the row.
func messageParams(channelId int, ev *ClientEvent) database.CreateMessageParams {
	params := database.CreateMessageParams{
		ChannelId: channelId,
		UserId:    ev.UserId,
		Username:  ev.client.user.Username,
		Content:   ev.Publish.Content,
		Type:      string(ev.Publish.Type),
	}

	if f := ev.Publish.File; f != nil {
		params.FileUrl = sql.NullString{String: f.Url, Valid: true}
		params.FileName = sql.NullString{String: f.Name, Valid: true}
		params.FileSize = sql.NullInt64{Int64: f.Size, Valid: true}
		params.FileMimeType = sql.NullString{String: f.MimeType, Valid: true}
	}

	return params
}

// WireMessage converts a persisted message row to its wire form. The
// row is canonical: id and timestamp come from the store.
func WireMessage(externalId string, msg database.Message) types.Message {
	m := types.Message{
		Id:         msg.Id,
		ChannelId:  externalId,
		SenderId:   msg.UserId,
		SenderName: msg.Username,
		Content:    msg.Content,
		Type:       types.MessageType(msg.Type),
		Edited:     msg.Edited,
		Timestamp:  msg.CreatedAt,
	}

	if msg.FileUrl.Valid {
		m.File = &types.FileRef{
			Url:      msg.FileUrl.String,
			Name:     msg.FileName.String,
			Size:     msg.FileSize.Int64,
			MimeType: msg.FileMimeType.String,
		}
	}

	return m
}

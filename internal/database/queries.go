package database

import (
	"fmt"
	"time"
)

func (db *PgChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, is_admin, online, last_seen FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Email,
		&user.IsAdmin,
		&user.Online,
		&user.LastSeen,
	)

	return user, err
}

func (db *PgChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, group_id, name, last_activity_at, created_at, updated_at FROM channels "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var channel Channel
	err := row.Scan(
		&channel.Id,
		&channel.ExternalId,
		&channel.GroupId,
		&channel.Name,
		&channel.LastActivityAt,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)

	return channel, err
}

func (db *PgChatRepository) GetChannelMembers(channelId int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.username, a.online, a.last_seen FROM channel_members AS m "+
			"JOIN accounts AS a ON m.account_id = a.id WHERE m.channel_id = $1",
		channelId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members = make([]User, 0)
	for rows.Next() {
		var member User
		if err = rows.Scan(&member.Id, &member.Username, &member.Online, &member.LastSeen); err != nil {
			break
		}

		members = append(members, member)
	}

	return members, err
}

func (db *PgChatRepository) IsChannelMember(accountId, channelId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM channel_members WHERE account_id = $1 AND channel_id = $2)",
		accountId,
		channelId,
	)

	var member bool
	err := row.Scan(&member)

	return member, err
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (channel_id, user_id, username, content, type, "+
			"file_url, file_name, file_size, file_mime_type, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) "+
			"RETURNING id, created_at",
		params.ChannelId,
		params.UserId,
		params.Username,
		params.Content,
		params.Type,
		params.FileUrl,
		params.FileName,
		params.FileSize,
		params.FileMimeType,
		time.Now().UTC(),
	)

	msg := Message{
		ChannelId:    params.ChannelId,
		UserId:       params.UserId,
		Username:     params.Username,
		Content:      params.Content,
		Type:         params.Type,
		FileUrl:      params.FileUrl,
		FileName:     params.FileName,
		FileSize:     params.FileSize,
		FileMimeType: params.FileMimeType,
	}

	if err := res.Scan(&msg.Id, &msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessages(channelId, before, limit int) ([]Message, error) {
	var upper int = 1<<31 - 1
	if before > 0 {
		upper = before - 1
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, channel_id, user_id, username, content, type, "+
			"file_url, file_name, file_size, file_mime_type, edited, created_at FROM messages "+
			"WHERE channel_id = $1 AND id <= $2 ORDER BY id DESC LIMIT $3",
		channelId,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.ChannelId,
			&msg.UserId,
			&msg.Username,
			&msg.Content,
			&msg.Type,
			&msg.FileUrl,
			&msg.FileName,
			&msg.FileSize,
			&msg.FileMimeType,
			&msg.Edited,
			&msg.CreatedAt,
		); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

func (db *PgChatRepository) UpdateChannelActivity(channelId int, t time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE channels SET last_activity_at = $1, updated_at = $1 WHERE id = $2",
		t.UTC(),
		channelId,
	)

	return err
}

func (db *PgChatRepository) SetPresence(accountId int, online bool, lastSeen time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET online = $2, last_seen = $3, updated_at = $3 WHERE id = $1",
		accountId,
		online,
		lastSeen.UTC(),
	)

	return err
}

func (db *PgChatRepository) GetOnlineUserIds() ([]int, error) {
	rows, err := db.conn.Query("SELECT id FROM accounts WHERE online = true")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids = make([]int, 0)
	for rows.Next() {
		var id int
		if err = rows.Scan(&id); err != nil {
			break
		}

		ids = append(ids, id)
	}

	return ids, err
}

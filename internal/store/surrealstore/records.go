package surrealstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/quickchat/internal/domain"
)

// Records are stored with deterministic ids: user:<hex>, pointer:<hex>,
// room:<num> and message:<num>. "id" is the record id in SurrealDB, so the
// numeric primary key of rooms and messages lives in "num".

type userRecord struct {
	ID       *models.RecordID `json:"id,omitempty"`
	Identity string           `json:"identity"`
	Name     *string          `json:"name,omitempty"`
	Online   bool             `json:"online"`
}

func (r userRecord) domain() (domain.User, error) {
	id, err := domain.ParseIdentity(r.Identity)
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{Identity: id, Name: r.Name, Online: r.Online}, nil
}

type roomRecord struct {
	ID   *models.RecordID `json:"id,omitempty"`
	Num  uint64           `json:"num"`
	Name string           `json:"name"`
}

func (r roomRecord) domain() (domain.Room, error) {
	return domain.Room{ID: r.Num, Name: r.Name}, nil
}

type messageRecord struct {
	ID     *models.RecordID `json:"id,omitempty"`
	Num    uint64           `json:"num"`
	Sender string           `json:"sender"`
	Room   uint64           `json:"room"`
	Text   string           `json:"text"`
	Sent   int64            `json:"sent"`
}

func (r messageRecord) domain() (domain.Message, error) {
	sender, err := domain.ParseIdentity(r.Sender)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:     r.Num,
		Sender: sender,
		Room:   r.Room,
		Text:   r.Text,
		Sent:   time.UnixMicro(r.Sent).UTC(),
	}, nil
}

type pointerRecord struct {
	ID        *models.RecordID `json:"id,omitempty"`
	Owner     string           `json:"owner"`
	PositionX float64          `json:"position_x"`
	PositionY float64          `json:"position_y"`
}

func (r pointerRecord) domain() (domain.Pointer, error) {
	owner, err := domain.ParseIdentity(r.Owner)
	if err != nil {
		return domain.Pointer{}, err
	}
	return domain.Pointer{Owner: owner, PositionX: r.PositionX, PositionY: r.PositionY}, nil
}

type counterRecord struct {
	Value uint64 `json:"value"`
}

type record[T any] interface {
	domain() (T, error)
}

// toDomain converts records to rows, skipping the ones that do not decode.
func toDomain[T any, R record[T]](recs []R) ([]any, []error) {
	rows := make([]any, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		row, err := rec.domain()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs
}

func decodeRecord[T any, R record[T]](data []byte) (any, error) {
	var rec R
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec.domain()
}

// decodeRow turns the JSON form of a record of table into a domain row.
func decodeRow(table string, data []byte) (any, error) {
	switch table {
	case domain.TableUser:
		return decodeRecord[domain.User, userRecord](data)
	case domain.TableRoom:
		return decodeRecord[domain.Room, roomRecord](data)
	case domain.TableMessage:
		return decodeRecord[domain.Message, messageRecord](data)
	case domain.TablePointer:
		return decodeRecord[domain.Pointer, pointerRecord](data)
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

var errNoKey = errors.New("notification without record id")

// decodeNotification extracts the row and its primary key from the result of
// a live query notification. Deletes only need the key, which is recovered
// from the record id when the payload does not decode.
func decodeNotification(table string, data any) (row any, key string, err error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("unexpected notification payload %T", data)
	}

	key, keyErr := recordKey(fields["id"])
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "id" {
			payload[k] = v
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, key, fmt.Errorf("encode notification: %w", err)
	}
	row, err = decodeRow(table, raw)
	if err != nil {
		if keyErr != nil {
			return nil, "", err
		}
		return nil, key, err
	}
	if key, err = domain.RowKey(row); err != nil {
		return nil, "", err
	}
	return row, key, nil
}

func recordKey(v any) (string, error) {
	var id any
	switch rid := v.(type) {
	case models.RecordID:
		id = rid.ID
	case *models.RecordID:
		if rid == nil {
			return "", errNoKey
		}
		id = rid.ID
	default:
		return "", errNoKey
	}
	switch k := id.(type) {
	case string:
		return k, nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case int:
		return strconv.Itoa(k), nil
	case float64:
		return strconv.FormatUint(uint64(k), 10), nil
	}
	return fmt.Sprint(id), nil
}

// field maps a domain column to the record field holding it.
func field(table, column string) string {
	if column == "id" && (table == domain.TableRoom || table == domain.TableMessage) {
		return "num"
	}
	return column
}

// paramValue converts a query literal to the type the record field is stored
// with, so comparisons happen on typed values.
func paramValue(table, column, literal string) (any, error) {
	switch table + "." + column {
	case "room.id", "message.id", "message.room":
		return strconv.ParseUint(literal, 10, 64)
	case "message.sent":
		return strconv.ParseInt(literal, 10, 64)
	case "user.online":
		return strconv.ParseBool(literal)
	case "pointer.position_x", "pointer.position_y":
		return strconv.ParseFloat(literal, 64)
	}
	return literal, nil
}

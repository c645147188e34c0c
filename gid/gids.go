package gid

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	FlowTag    = "flo"
	InvalidTag = "xxx"
)

type tagToIDConstructor func(uuid.UUID) ID

var idConstructorMap = map[string]tagToIDConstructor{
	FlowTag: func(ID uuid.UUID) ID { return NewFlowID(ID) },
}

func parseIDParts(str string) (string, uuid.UUID, error) {
	parts := strings.Split(str, "_")
	if len(parts) != 2 {
		return "", uuid.Nil, errors.New("invalid GID structure")
	}
	idPart, err := decodeUUID(parts[1])
	if err != nil {
		return "", uuid.Nil, errors.Wrap(err, "invalid unique id part of GID")
	}
	return parts[0], idPart, nil
}

func ParseID(str string) (ID, error) {
	tagName, uniquePart, err := parseIDParts(str)
	if err != nil {
		return nil, err
	}

	constructor := idConstructorMap[tagName]
	if constructor == nil {
		return nil, errors.Errorf("no known gid for tag %s", tagName)
	}

	return constructor(uniquePart), nil
}

func ParseIDAs(str string, destID interface{}) error {
	id, err := ParseID(str)
	if err != nil {
		return errors.Wrapf(err, "parse ID failed: %s", str)
	}
	return assignTo(id, destID)
}

// FlowID opaquely identifies one observed uTP flow for log correlation and
// stable flow-table iteration order. It plays no part in flow lookup: the wire
// identity of a flow is its five-tuple key (initiator, accepter, connid),
// handled entirely by FlowTable.
type FlowID struct {
	baseID
}

func (FlowID) GetType() string {
	return FlowTag
}

func (id FlowID) String() string {
	return String(id)
}

func NewFlowID(ID uuid.UUID) FlowID {
	return FlowID{baseID(ID)}
}

func GenerateFlowID() FlowID {
	return NewFlowID(uuid.New())
}

func (id FlowID) MarshalText() ([]byte, error) {
	return toText(id)
}

func (id *FlowID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind is the variant held by a Node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Node is a parsed JSON value. Objects keep their keys in document order so
// depth-first searches are deterministic.
type Node struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	Str    string
	Items  []*Node
	Fields []Field
}

// Field is one key of an object node.
type Field struct {
	Key   string
	Value *Node
}

// ParseNode decodes one JSON document into a Node tree.
func ParseNode(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after json value")
	}
	return n, nil
}

func parseValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case nil:
		return &Node{Kind: KindNull}, nil
	case bool:
		return &Node{Kind: KindBool, Bool: v}, nil
	case json.Number:
		return &Node{Kind: KindNumber, Number: v}, nil
	case string:
		return &Node{Kind: KindString, Str: v}, nil
	case json.Delim:
		switch v {
		case '{':
			n := &Node{Kind: KindObject}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				n.Fields = append(n.Fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &Node{Kind: KindArray}
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
	return nil, fmt.Errorf("unexpected json token %v", tok)
}

// Get returns the first field named key of an object node, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Path follows keys through nested objects.
func (n *Node) Path(keys ...string) *Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// String returns the value of a string node.
func (n *Node) String() (string, bool) {
	if n == nil || n.Kind != KindString {
		return "", false
	}
	return n.Str, true
}

// Int returns the value of an integral number node. Numeric strings are
// accepted since the page serialises some ids and codes as strings.
func (n *Node) Int() (int64, bool) {
	if n == nil {
		return 0, false
	}
	var s string
	switch n.Kind {
	case KindNumber:
		s = n.Number.String()
	case KindString:
		s = n.Str
	default:
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StringMap returns the string-valued fields of an object node.
func (n *Node) StringMap() map[string]string {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	out := make(map[string]string, len(n.Fields))
	for _, f := range n.Fields {
		if s, ok := f.Value.String(); ok {
			if _, dup := out[f.Key]; !dup {
				out[f.Key] = s
			}
		}
	}
	return out
}

// FindKey searches the tree depth-first for the first object field named key.
// An object's own fields are checked before descending into its children.
func FindKey(root *Node, key string) *Node {
	if root == nil {
		return nil
	}
	switch root.Kind {
	case KindObject:
		if v := root.Get(key); v != nil {
			return v
		}
		for _, f := range root.Fields {
			if found := FindKey(f.Value, key); found != nil {
				return found
			}
		}
	case KindArray:
		for _, it := range root.Items {
			if found := FindKey(it, key); found != nil {
				return found
			}
		}
	}
	return nil
}

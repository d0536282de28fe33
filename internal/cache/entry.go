package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"reflect"
	"time"
	"unsafe"
)

// Entry represents a single cached item. The value is held in serialized
// form together with a type tag so heterogeneous payloads round-trip
// through persistence without losing their concrete type.
type Entry struct {
	Key          string
	ValueBytes   []byte // Serialized value payload
	ValueType    string // Type information for deserialization
	Size         uint64 // Size of the serialized payload
	CreatedAt    time.Time
	ExpiresAt    time.Time // Zero when the entry has no TTL
	AccessCount  uint64
	LastAccessed time.Time
}

// Value deserializes and returns the cached value.
func (e *Entry) Value() (interface{}, error) {
	return deserializeValue(e.ValueBytes, e.ValueType)
}

// IsExpired checks if the entry has expired
func (e *Entry) IsExpired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// Age returns the time elapsed since the entry was created.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// IdleTime returns the time elapsed since the entry was last accessed.
func (e *Entry) IdleTime() time.Duration {
	return time.Since(e.LastAccessed)
}

// EntryMetadata is the externally visible view of an entry's access state.
type EntryMetadata struct {
	Key          string        `json:"key"`
	Size         uint64        `json:"size"`
	Age          time.Duration `json:"age"`
	IdleTime     time.Duration `json:"idle_time"`
	AccessCount  uint64        `json:"access_count"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// serializeValue converts interface{} values to []byte for storage
func serializeValue(value interface{}) ([]byte, string, error) {
	if value == nil {
		return nil, "", fmt.Errorf("cannot serialize nil value")
	}
	valueType := reflect.TypeOf(value).String()

	switch v := value.(type) {
	case string:
		return []byte(v), valueType, nil
	case []byte:
		// Make a copy to avoid aliasing issues
		data := make([]byte, len(v))
		copy(data, v)
		return data, valueType, nil
	case int:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(v))
		return data, valueType, nil
	case int32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(v))
		return data, valueType, nil
	case int64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(v))
		return data, valueType, nil
	case uint32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, v)
		return data, valueType, nil
	case uint64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, v)
		return data, valueType, nil
	case float32:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, *(*uint32)(unsafe.Pointer(&v)))
		return data, valueType, nil
	case float64:
		data := make([]byte, 8)
		binary.LittleEndian.PutUint64(data, *(*uint64)(unsafe.Pointer(&v)))
		return data, valueType, nil
	case bool:
		if v {
			return []byte{1}, valueType, nil
		}
		return []byte{0}, valueType, nil
	default:
		// Use gob encoding for complex types
		var buf bytes.Buffer
		encoder := gob.NewEncoder(&buf)
		if err := encoder.Encode(&value); err != nil {
			return nil, "", fmt.Errorf("failed to encode value: %w", err)
		}
		return buf.Bytes(), valueType, nil
	}
}

// deserializeValue converts []byte back to the original value type
func deserializeValue(data []byte, valueType string) (interface{}, error) {
	if len(data) == 0 && valueType != "string" {
		return nil, fmt.Errorf("empty data for deserialization")
	}

	switch valueType {
	case "string":
		return string(data), nil
	case "[]uint8": // []byte shows up as []uint8 in reflection
		// Return a copy to avoid mutation issues
		result := make([]byte, len(data))
		copy(result, data)
		return result, nil
	case "int":
		if len(data) < 8 {
			return nil, fmt.Errorf("insufficient data for int deserialization")
		}
		return int(binary.LittleEndian.Uint64(data)), nil
	case "int32":
		if len(data) < 4 {
			return nil, fmt.Errorf("insufficient data for int32 deserialization")
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case "int64":
		if len(data) < 8 {
			return nil, fmt.Errorf("insufficient data for int64 deserialization")
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	case "uint32":
		if len(data) < 4 {
			return nil, fmt.Errorf("insufficient data for uint32 deserialization")
		}
		return binary.LittleEndian.Uint32(data), nil
	case "uint64":
		if len(data) < 8 {
			return nil, fmt.Errorf("insufficient data for uint64 deserialization")
		}
		return binary.LittleEndian.Uint64(data), nil
	case "float32":
		if len(data) < 4 {
			return nil, fmt.Errorf("insufficient data for float32 deserialization")
		}
		bits := binary.LittleEndian.Uint32(data)
		return *(*float32)(unsafe.Pointer(&bits)), nil
	case "float64":
		if len(data) < 8 {
			return nil, fmt.Errorf("insufficient data for float64 deserialization")
		}
		bits := binary.LittleEndian.Uint64(data)
		return *(*float64)(unsafe.Pointer(&bits)), nil
	case "bool":
		if len(data) < 1 {
			return nil, fmt.Errorf("insufficient data for bool deserialization")
		}
		return data[0] != 0, nil
	default:
		// Use gob decoding for complex types
		buf := bytes.NewBuffer(data)
		decoder := gob.NewDecoder(buf)
		var result interface{}
		if err := decoder.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode value: %w", err)
		}
		return result, nil
	}
}

func init() {
	// Concrete types carried through interface{} payloads must be known
	// to gob before values of them cross an encoder.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(time.Time{})
}

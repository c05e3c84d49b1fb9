package wire

// Field extraction helpers for MessagePack-decoded maps. msgpack decodes
// binary fields as []byte, integers as the Go type of their encoded width
// (int8, uint8, ..., int64, uint64), and arrays as []interface{}; these
// helpers normalize that and
// turn shape mismatches into MessageError per the unpack contract.

func fieldBin(m map[string]interface{}, key string, size int) ([]byte, error) {
	raw, ok := m[key]
	if !ok {
		return nil, newMessageError("missing required field %q", key)
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, newMessageError("field %q must be binary", key)
	}
	if len(b) != size {
		return nil, newMessageError("field %q must be %d bytes, got %d", key, size, len(b))
	}
	return b, nil
}

func fieldBin32(m map[string]interface{}, key string) (PublicKey, error) {
	b, err := fieldBin(m, key, KeySize)
	if err != nil {
		return PublicKey{}, err
	}
	var k PublicKey
	copy(k[:], b)
	return k, nil
}

func fieldBin32FromValue(raw interface{}) (PublicKey, error) {
	b, ok := raw.([]byte)
	if !ok || len(b) != KeySize {
		return PublicKey{}, newMessageError("field must be a %d-byte key", KeySize)
	}
	var k PublicKey
	copy(k[:], b)
	return k, nil
}

func fieldBin16(m map[string]interface{}, key string) (Cookie, error) {
	b, err := fieldBin(m, key, CookieSize)
	if err != nil {
		return Cookie{}, err
	}
	var c Cookie
	copy(c[:], b)
	return c, nil
}

func fieldUint8(m map[string]interface{}, key string) (byte, error) {
	raw, ok := m[key]
	if !ok {
		return 0, newMessageError("missing required field %q", key)
	}
	v, err := fieldUint32(raw)
	if err != nil {
		return 0, newMessageError("field %q must be a small integer", key)
	}
	if v > 0xFF {
		return 0, newMessageError("field %q out of range: %d", key, v)
	}
	return byte(v), nil
}

func fieldUint32(raw interface{}) (uint32, error) {
	switch v := raw.(type) {
	case int64:
		if v < 0 {
			return 0, newMessageError("expected non-negative integer, got %d", v)
		}
		return uint32(v), nil
	case uint64:
		return uint32(v), nil
	case uint8:
		return uint32(v), nil
	case uint16:
		return uint32(v), nil
	case uint32:
		return v, nil
	case int8:
		if v < 0 {
			return 0, newMessageError("expected non-negative integer, got %d", v)
		}
		return uint32(v), nil
	case int:
		if v < 0 {
			return 0, newMessageError("expected non-negative integer, got %d", v)
		}
		return uint32(v), nil
	default:
		return 0, newMessageError("expected an integer field")
	}
}

func fieldStringSlice(raw interface{}) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, newMessageError("field must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, newMessageError("array element must be a string")
		}
		out = append(out, s)
	}
	return out, nil
}

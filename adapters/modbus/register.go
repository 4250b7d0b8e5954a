package modbus

import (
	"math"
	"strconv"
	"strings"

	"github.com/u-root/u-root/pkg/uio"

	"github.com/shng-go/shng/errors"
)

type Table int

const (
	Holding Table = iota
	Input
	Coil
	Discrete
)

var tableNames = map[string]Table{
	"holding":  Holding,
	"input":    Input,
	"coil":     Coil,
	"discrete": Discrete,
}

func (t Table) String() string {
	switch t {
	case Holding:
		return "holding"
	case Input:
		return "input"
	case Coil:
		return "coil"
	case Discrete:
		return "discrete"
	}
	return "unknown"
}

func (t Table) Writable() bool {
	return t == Holding || t == Coil
}

// Register is a parsed address: table:number with a data type.
type Register struct {
	Table    Table
	Address  uint16
	DataType string
}

var registerSizes = map[string]uint16{
	"int16":   1,
	"uint16":  1,
	"int32":   2,
	"uint32":  2,
	"float32": 2,
}

// ParseRegister parses "holding:40069", "input:30001", "coil:1" or
// "discrete:2". A bare number is a holding register. The data type defaults to
// uint16 for registers and is ignored for coils and discrete inputs.
func ParseRegister(address, dataType string) (Register, error) {
	table, number := "holding", address
	if n := strings.IndexByte(address, ':'); n >= 0 {
		table, number = strings.ToLower(address[:n]), address[n+1:]
	}
	t, ok := tableNames[table]
	if !ok {
		return Register{}, errors.Bindingf("modbus.Bind", "unknown register table %q", table)
	}
	addr, err := strconv.ParseUint(number, 10, 16)
	if err != nil {
		return Register{}, errors.Bindingf("modbus.Bind", "invalid register %q", number)
	}
	r := Register{Table: t, Address: uint16(addr)}
	if t == Holding || t == Input {
		if dataType == "" {
			dataType = "uint16"
		}
		if _, ok := registerSizes[dataType]; !ok {
			return Register{}, errors.Bindingf("modbus.Bind", "unsupported data type %q", dataType)
		}
		r.DataType = dataType
	}
	return r, nil
}

// Quantity of registers (or bits) to read.
func (r Register) Quantity() uint16 {
	if size, ok := registerSizes[r.DataType]; ok {
		return size
	}
	return 1
}

// Decode the bytes of a read response.
func (r Register) Decode(data []byte) (interface{}, error) {
	if r.Table == Coil || r.Table == Discrete {
		if len(data) < 1 {
			return nil, errors.Transientf("modbus.Poll", "short response for %s:%d", r.Table, r.Address)
		}
		return data[0]&1 == 1, nil
	}
	if len(data) != int(r.Quantity())*2 {
		return nil, errors.Transientf("modbus.Poll", "short response for %s:%d", r.Table, r.Address)
	}
	buf := uio.NewBigEndianBuffer(data)
	switch r.DataType {
	case "int16":
		return float64(int16(buf.Read16())), nil
	case "int32":
		return float64(int32(buf.Read32())), nil
	case "uint32":
		return float64(buf.Read32()), nil
	case "float32":
		return float64(math.Float32frombits(buf.Read32())), nil
	default:
		return float64(buf.Read16()), nil
	}
}

// Encode a value for writing to a holding register.
func (r Register) Encode(value interface{}) ([]byte, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case bool:
		if v {
			f = 1
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, errors.Typef("modbus.Write", "not a number: %q", v)
		}
	default:
		return nil, errors.Typef("modbus.Write", "unsupported value %T", value)
	}
	buf := uio.NewBigEndianBuffer(nil)
	switch r.DataType {
	case "int16":
		buf.Write16(uint16(int16(math.Round(f))))
	case "int32":
		buf.Write32(uint32(int32(math.Round(f))))
	case "uint32":
		buf.Write32(uint32(math.Round(f)))
	case "float32":
		buf.Write32(math.Float32bits(float32(f)))
	default:
		buf.Write16(uint16(math.Round(f)))
	}
	return buf.Data(), nil
}

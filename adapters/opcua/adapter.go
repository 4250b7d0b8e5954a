// Package opcua reads and writes OPC UA node values.
package opcua

import (
	"context"
	"strings"
	"sync"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
)

func init() {
	adapters.Register("opcua", func() adapters.Adapter { return &Adapter{} })
}

type nodeClient interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error)
}

type Adapter struct {
	adapters.Bindings

	endpoint string
	opts     []opcua.Option
	dial     func(endpoint string, opts ...opcua.Option) (nodeClient, error)
	nodes    map[string]*ua.NodeID

	mu     sync.Mutex
	client nodeClient
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "opcua", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.endpoint, err = params.Require("endpoint"); err != nil {
		return err
	}
	self.opts = []opcua.Option{
		opcua.SecurityModeString(securityMode(params.String("security_mode", ""))),
		opcua.SecurityPolicy(params.String("security_policy", "None")),
		opcua.ApplicationName(params.String("application", "shng")),
	}
	if user := params.String("username", ""); user != "" {
		self.opts = append(self.opts, opcua.AuthUsername(user, params.String("password", "")))
	} else {
		self.opts = append(self.opts, opcua.AuthAnonymous())
	}
	self.nodes = map[string]*ua.NodeID{}
	if self.dial == nil {
		self.dial = func(endpoint string, opts ...opcua.Option) (nodeClient, error) {
			return opcua.NewClient(endpoint, opts...)
		}
	}
	return nil
}

func securityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	}
	return "None"
}

func (self *Adapter) Bind(b *binder.Binding) error {
	id, err := ua.ParseNodeID(b.Address)
	if err != nil {
		return errors.Binding("opcua.Bind", errors.Wrap(err, b.Address))
	}
	if b.Direction.CanWrite() && !writeTypes[b.DataType] {
		return errors.Bindingf("opcua.Bind", "unsupported data type %q", b.DataType)
	}
	self.nodes[b.Address] = id
	self.Add(b)
	return nil
}

// authFailure reports status codes meaning the server will never accept us.
func authFailure(err error) bool {
	for _, code := range []ua.StatusCode{
		ua.StatusBadUserAccessDenied,
		ua.StatusBadIdentityTokenInvalid,
		ua.StatusBadIdentityTokenRejected,
		ua.StatusBadSecurityPolicyRejected,
	} {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	if authFailure(err) {
		return errors.Permanent(op, err)
	}
	return errors.Transient(op, err)
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client != nil {
		return nil
	}
	c, err := self.dial(self.endpoint, self.opts...)
	if err != nil {
		return errors.Config("opcua.Connect", err)
	}
	if err := c.Connect(ctx); err != nil {
		return classify("opcua.Connect", err)
	}
	self.client = c
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	c := self.client
	self.client = nil
	self.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close(context.Background())
}

func (self *Adapter) conn() (nodeClient, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		return nil, errors.Transientf("opcua", "not connected")
	}
	return self.client, nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	addrs := self.ReadAddresses()
	if len(addrs) == 0 {
		return nil, nil
	}
	c, err := self.conn()
	if err != nil {
		return nil, err
	}
	req := &ua.ReadRequest{TimestampsToReturn: ua.TimestampsToReturnBoth}
	for _, addr := range addrs {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{NodeID: self.nodes[addr], AttributeID: ua.AttributeIDValue})
	}
	resp, err := c.Read(ctx, req)
	if err != nil {
		return nil, classify("opcua.Poll", err)
	}
	if len(resp.Results) != len(addrs) {
		return nil, errors.Transientf("opcua.Poll", "%d results for %d nodes", len(resp.Results), len(addrs))
	}
	var ret []adapters.Reading
	for n, result := range resp.Results {
		if result == nil || result.Status != ua.StatusOK || result.Value == nil {
			continue
		}
		if v, ok := variantValue(result.Value.Value()); ok {
			ret = append(ret, adapters.Reading{Address: addrs[n], Value: v})
		}
	}
	return ret, nil
}

func variantValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case bool, string, float64:
		return val, true
	case float32:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return nil, false
}

var writeTypes = map[string]bool{"": true, "double": true, "float": true, "int16": true, "uint16": true, "int32": true, "uint32": true, "int64": true}

// variant converts a value to the node data type before writing. Numbers
// default to double.
func variant(dataType string, value interface{}) (*ua.Variant, error) {
	var v interface{} = value
	if f, ok := value.(float64); ok {
		switch dataType {
		case "", "double":
		case "float":
			v = float32(f)
		case "int16":
			v = int16(f)
		case "uint16":
			v = uint16(f)
		case "int32":
			v = int32(f)
		case "uint32":
			v = uint32(f)
		case "int64":
			v = int64(f)
		default:
			return nil, errors.Bindingf("opcua.Write", "unsupported data type %q", dataType)
		}
	}
	ret, err := ua.NewVariant(v)
	if err != nil {
		return nil, errors.Type("opcua.Write", err)
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	id, ok := self.nodes[address]
	if !ok {
		return errors.Bindingf("opcua.Write", "node %q not bound", address)
	}
	dataType := ""
	if b := self.First(address); b != nil {
		dataType = b.DataType
	}
	v, err := variant(dataType, value)
	if err != nil {
		return err
	}
	c, err := self.conn()
	if err != nil {
		return err
	}
	req := &ua.WriteRequest{NodesToWrite: []*ua.WriteValue{{
		NodeID:      id,
		AttributeID: ua.AttributeIDValue,
		Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: v},
	}}}
	resp, err := c.Write(ctx, req)
	if err != nil {
		return classify("opcua.Write", err)
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return classify("opcua.Write", resp.Results[0])
	}
	return nil
}

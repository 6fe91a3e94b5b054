package weight

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"

	"github.com/nats-io/nats.go"
)

const (
	DefaultNATSSubject = "wdctcp.weight"
	DefaultNATSTimeout = 2 * time.Second
)

type NATSAdminOptions struct {
	Conn    *nats.Conn
	Subject string
	Admin   Admin
	Logger  logger.ContextLogger
}

type natsRequest struct {
	Name   string `json:"name,omitempty"`
	Weight uint32 `json:"weight,omitempty"`
}

type natsResponse struct {
	Name    string   `json:"name,omitempty"`
	Weight  uint32   `json:"weight,omitempty"`
	Records []Record `json:"records,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
}

// error codes carried over the wire so clients can match sentinels
const (
	codeUnknownConnection = "unknown_connection"
	codeInvalidWeight     = "invalid_weight"
	codeProviderClosed    = "provider_closed"
)

// NATSAdmin serves an Admin over NATS request/reply on <Subject>.get,
// <Subject>.set and <Subject>.list.
type NATSAdmin struct {
	conn          *nats.Conn
	subject       string
	admin         Admin
	logger        logger.ContextLogger
	subscriptions []*nats.Subscription
}

func NewNATSAdmin(options NATSAdminOptions) (*NATSAdmin, error) {
	if options.Conn == nil {
		return nil, E.New("missing nats connection")
	}
	if options.Admin == nil {
		return nil, E.New("missing weight admin")
	}
	if options.Subject == "" {
		options.Subject = DefaultNATSSubject
	}
	if options.Logger == nil {
		options.Logger = logger.NOP()
	}
	return &NATSAdmin{
		conn:    options.Conn,
		subject: options.Subject,
		admin:   options.Admin,
		logger:  options.Logger,
	}, nil
}

func (a *NATSAdmin) Start() error {
	handlers := map[string]func(request natsRequest) natsResponse{
		".get":  a.handleGet,
		".set":  a.handleSet,
		".list": a.handleList,
	}
	for suffix, handler := range handlers {
		handler := handler
		subscription, err := a.conn.Subscribe(a.subject+suffix, func(msg *nats.Msg) {
			a.serve(msg, handler)
		})
		if err != nil {
			a.Close()
			return E.Cause(err, "subscribe ", a.subject+suffix)
		}
		a.subscriptions = append(a.subscriptions, subscription)
	}
	return a.conn.Flush()
}

func (a *NATSAdmin) serve(msg *nats.Msg, handler func(request natsRequest) natsResponse) {
	var request natsRequest
	var response natsResponse
	if len(msg.Data) > 0 {
		err := json.Unmarshal(msg.Data, &request)
		if err != nil {
			response = natsResponse{Error: E.Cause(err, "decode request").Error()}
		} else {
			response = handler(request)
		}
	} else {
		response = handler(request)
	}
	if msg.Reply == "" {
		return
	}
	content, err := json.Marshal(response)
	if err != nil {
		a.logger.Error(E.Cause(err, "encode response"))
		return
	}
	err = a.conn.Publish(msg.Reply, content)
	if err != nil {
		a.logger.Debug(E.Cause(err, "reply to ", msg.Subject))
	}
}

func (a *NATSAdmin) handleGet(request natsRequest) natsResponse {
	weight, err := a.admin.Get(request.Name)
	if err != nil {
		return errorResponse(err)
	}
	return natsResponse{Name: request.Name, Weight: weight}
}

func (a *NATSAdmin) handleSet(request natsRequest) natsResponse {
	err := a.admin.Set(request.Name, request.Weight)
	if err != nil {
		return errorResponse(err)
	}
	a.logger.Info("set weight of ", request.Name, " to ", request.Weight)
	return natsResponse{Name: request.Name, Weight: request.Weight}
}

func (a *NATSAdmin) handleList(natsRequest) natsResponse {
	records, err := a.admin.List()
	if err != nil {
		return errorResponse(err)
	}
	return natsResponse{Records: records}
}

func (a *NATSAdmin) Close() error {
	var errs []error
	for _, subscription := range a.subscriptions {
		errs = append(errs, subscription.Unsubscribe())
	}
	a.subscriptions = nil
	return E.Errors(errs...)
}

func errorResponse(err error) natsResponse {
	response := natsResponse{Error: err.Error()}
	switch {
	case errors.Is(err, ErrUnknownConnection):
		response.Code = codeUnknownConnection
	case errors.Is(err, ErrInvalidWeight):
		response.Code = codeInvalidWeight
	case errors.Is(err, ErrProviderClosed):
		response.Code = codeProviderClosed
	}
	return response
}

var _ Admin = (*NATSClient)(nil)

// NATSClient is the remote side of NATSAdmin.
type NATSClient struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

func NewNATSClient(conn *nats.Conn, subject string, timeout time.Duration) *NATSClient {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if timeout == 0 {
		timeout = DefaultNATSTimeout
	}
	return &NATSClient{conn: conn, subject: subject, timeout: timeout}
}

func (c *NATSClient) Get(name string) (uint32, error) {
	response, err := c.request(".get", natsRequest{Name: name})
	if err != nil {
		return 0, err
	}
	return response.Weight, nil
}

func (c *NATSClient) Set(name string, weight uint32) error {
	_, err := c.request(".set", natsRequest{Name: name, Weight: weight})
	return err
}

func (c *NATSClient) List() ([]Record, error) {
	response, err := c.request(".list", natsRequest{})
	if err != nil {
		return nil, err
	}
	return response.Records, nil
}

func (c *NATSClient) request(suffix string, request natsRequest) (*natsResponse, error) {
	content := common.Must1(json.Marshal(request))
	msg, err := c.conn.Request(c.subject+suffix, content, c.timeout)
	if err != nil {
		return nil, E.Cause(err, "request ", c.subject+suffix)
	}
	var response natsResponse
	err = json.Unmarshal(msg.Data, &response)
	if err != nil {
		return nil, E.Cause(err, "decode response")
	}
	if response.Error != "" {
		switch response.Code {
		case codeUnknownConnection:
			return nil, E.Cause(ErrUnknownConnection, request.Name)
		case codeInvalidWeight:
			return nil, E.Cause(ErrInvalidWeight, response.Error)
		case codeProviderClosed:
			return nil, ErrProviderClosed
		}
		return nil, E.New(response.Error)
	}
	return &response, nil
}

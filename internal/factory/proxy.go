// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package factory

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/rpc"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Proxy is a Factory reached over gRPC.
type Proxy struct {
	name    string
	addr    string
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ Factory = (*Proxy)(nil)

// Dial returns a Proxy for the factory bound as h. Calls are bounded by
// timeout (default 30s).
func Dial(ctx context.Context, h registry.Handle, timeout time.Duration) (*Proxy, error) {
	conn, err := rpc.Dial(ctx, h.Address)
	if err != nil {
		return nil, &rferrors.Error{Kind: rferrors.KindConnectionLost, Op: "factory.dial", Name: h.Name, Cause: err}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{name: h.Name, addr: h.Address, conn: conn, timeout: timeout}, nil
}

// NewDialer returns a Dialer producing Proxies with the given call timeout.
func NewDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, h registry.Handle) (Factory, error) {
		return Dial(ctx, h, timeout)
	}
}

// Name returns the registry name of the factory.
func (p *Proxy) Name() string { return p.name }

func (p *Proxy) Create(ctx context.Context, req CreateRequest) (run.Handle, error) {
	var out CreateResponse
	if err := p.invoke(ctx, "Create", &req, &out); err != nil {
		return nil, p.classify(ctx, "factory.create", err)
	}
	h, err := run.DialRemote(ctx, p.addr, out.RunID, p.timeout)
	if err != nil {
		return nil, p.classify(ctx, "factory.create", err)
	}
	return h, nil
}

func (p *Proxy) OperatingCount(ctx context.Context) (int, error) {
	var out CountResponse
	if err := p.invoke(ctx, "OperatingCount", &rpc.Empty{}, &out); err != nil {
		return 0, p.classify(ctx, "factory.operating_count", err)
	}
	return out.Count, nil
}

func (p *Proxy) Shutdown(ctx context.Context) error {
	if err := p.invoke(ctx, "Shutdown", &rpc.Empty{}, &rpc.Empty{}); err != nil {
		return p.classify(ctx, "factory.shutdown", err)
	}
	return nil
}

func (p *Proxy) Close() error {
	return p.conn.Close()
}

func (p *Proxy) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out)
}

// classify maps transport outcomes onto error kinds. Errors that already
// carry a kind pass through. A failure after the caller's own context ended
// says nothing about the factory and is never reported as a lost connection.
func (p *Proxy) classify(ctx context.Context, op string, err error) error {
	if rferrors.KindOf(err) != "" {
		return err
	}
	kind := rferrors.KindInvocationFailed
	switch {
	case ctx.Err() != nil:
		err = errors.Join(ctx.Err(), err)
	case rpc.IsTransport(err):
		kind = rferrors.KindConnectionLost
	case rpc.Code(err) == codes.NotFound:
		kind = rferrors.KindUnbound
	}
	return &rferrors.Error{Kind: kind, Op: op, Name: p.name, Cause: err}
}

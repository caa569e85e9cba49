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

package registry

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/rpc"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Remote is a Client for a registry served by another process.
type Remote struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ Client = (*Remote)(nil)

// Dial connects to the registry at addr. Each call is bounded by timeout
// (default 2s).
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Remote, error) {
	conn, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, &rferrors.Error{Kind: rferrors.KindRegistryUnreachable, Op: "registry.dial", Cause: err}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Remote{conn: conn, timeout: timeout}, nil
}

// Close releases the connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

func (r *Remote) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out)
}

func (r *Remote) Lookup(ctx context.Context, name string) (Handle, error) {
	var out LookupResponse
	if err := r.invoke(ctx, "Lookup", &NameRequest{Name: name}, &out); err != nil {
		return Handle{}, fromStatus("registry.lookup", name, err)
	}
	return out.Handle, nil
}

func (r *Remote) Bind(ctx context.Context, name string, h Handle) error {
	h.Name = name
	if h.BoundAt.IsZero() {
		h.BoundAt = time.Now().UTC()
	}
	if err := r.invoke(ctx, "Bind", &BindRequest{Handle: h}, &rpc.Empty{}); err != nil {
		return fromStatus("registry.bind", name, err)
	}
	return nil
}

func (r *Remote) Unbind(ctx context.Context, name string) error {
	if err := r.invoke(ctx, "Unbind", &NameRequest{Name: name}, &rpc.Empty{}); err != nil {
		return fromStatus("registry.unbind", name, err)
	}
	return nil
}

func (r *Remote) List(ctx context.Context) ([]string, error) {
	var out ListResponse
	if err := r.invoke(ctx, "List", &rpc.Empty{}, &out); err != nil {
		return nil, fromStatus("registry.list", "", err)
	}
	return out.Names, nil
}

func fromStatus(op, name string, err error) error {
	kind := rferrors.KindRegistryUnreachable
	switch rpc.Code(err) {
	case codes.NotFound:
		kind = rferrors.KindNotBound
	case codes.AlreadyExists:
		kind = rferrors.KindAlreadyBound
	}
	return &rferrors.Error{Kind: kind, Op: op, Name: name, Cause: err}
}

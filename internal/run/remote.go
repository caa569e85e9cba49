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

package run

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/rpc"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Remote is a Handle to a run hosted by a worker factory.
type Remote struct {
	id      string
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ Handle = (*Remote)(nil)

// DialRemote returns a handle for run id served at addr.
func DialRemote(ctx context.Context, addr, id string, timeout time.Duration) (*Remote, error) {
	conn, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, &rferrors.Error{Kind: rferrors.KindConnectionLost, Op: "run.dial", Cause: err}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{id: id, conn: conn, timeout: timeout}, nil
}

func (r *Remote) ID() string { return r.id }

// Close releases the connection. The run itself is unaffected.
func (r *Remote) Close() error { return r.conn.Close() }

func (r *Remote) Status(ctx context.Context) (Status, error) {
	var out StatusResponse
	if err := r.invoke(ctx, "Status", &StatusRequest{ID: r.id}, &out); err != nil {
		return "", remoteError("run.status", r.id, err)
	}
	return out.Status, nil
}

func (r *Remote) SetStatus(ctx context.Context, to Status) (Status, error) {
	var out StatusResponse
	if err := r.invoke(ctx, "SetStatus", &StatusRequest{ID: r.id, Status: to}, &out); err != nil {
		return "", remoteError("run.set_status", r.id, err)
	}
	return out.Status, nil
}

func (r *Remote) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out)
}

func remoteError(op, id string, err error) error {
	kind := rferrors.KindInvocationFailed
	switch {
	case rpc.Code(err) == codes.FailedPrecondition:
		kind = rferrors.KindIllegalStateTransition
	case rpc.IsTransport(err):
		kind = rferrors.KindConnectionLost
	}
	return &rferrors.Error{Kind: kind, Op: op, Message: "run " + id, Cause: err}
}

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

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/rpc"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

const serviceName = "runfactory.Factory"

// CreateResponse is the reply of Factory/Create.
type CreateResponse struct {
	RunID string `json:"run_id"`
}

// CountResponse is the reply of Factory/OperatingCount.
type CountResponse struct {
	Count int `json:"count"`
}

// Backend is the worker-side implementation of a factory. Create returns
// the ID under which the new run is served by the run service on the same
// endpoint.
type Backend interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
	OperatingCount(ctx context.Context) int
	Shutdown(ctx context.Context) error
}

// Service exposes a Backend over gRPC.
type Service struct {
	backend Backend
}

// NewService wraps backend for registration with an rpc.Server.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) create(ctx context.Context, in *CreateRequest) (any, error) {
	id, err := s.backend.Create(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateResponse{RunID: id}, nil
}

func (s *Service) operatingCount(ctx context.Context, _ *rpc.Empty) (any, error) {
	return &CountResponse{Count: s.backend.OperatingCount(ctx)}, nil
}

func (s *Service) shutdown(ctx context.Context, _ *rpc.Empty) (any, error) {
	if err := s.backend.Shutdown(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

func toStatus(err error) error {
	var verr *rferrors.ValidationError
	switch {
	case rferrors.Is(err, rferrors.ErrUnbound):
		return rpc.Errorf(codes.NotFound, "%s", err)
	case rferrors.As(err, &verr):
		return rpc.Errorf(codes.InvalidArgument, "%s", err)
	default:
		return rpc.Errorf(codes.Internal, "%s", err)
	}
}

// ServiceDesc describes the factory service for rpc.Server.Register.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: rpc.Unary("/"+serviceName+"/Create", (*Service).create)},
		{MethodName: "OperatingCount", Handler: rpc.Unary("/"+serviceName+"/OperatingCount", (*Service).operatingCount)},
		{MethodName: "Shutdown", Handler: rpc.Unary("/"+serviceName+"/Shutdown", (*Service).shutdown)},
	},
}

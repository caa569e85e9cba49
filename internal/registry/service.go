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

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/rpc"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

const serviceName = "runfactory.Registry"

// BindRequest is the payload of Registry/Bind.
type BindRequest struct {
	Handle Handle `json:"handle"`
}

// NameRequest is the payload of Registry/Lookup and Registry/Unbind.
type NameRequest struct {
	Name string `json:"name"`
}

// LookupResponse is the reply of Registry/Lookup.
type LookupResponse struct {
	Handle Handle `json:"handle"`
}

// ListResponse is the reply of Registry/List.
type ListResponse struct {
	Names []string `json:"names"`
}

// Service exposes a Client (normally a Local) over gRPC.
type Service struct {
	client Client
}

// NewService wraps client for registration with an rpc.Server.
func NewService(client Client) *Service {
	return &Service{client: client}
}

func (s *Service) bind(ctx context.Context, in *BindRequest) (any, error) {
	if in.Handle.Name == "" {
		return nil, rpc.Errorf(codes.InvalidArgument, "name is required")
	}
	if err := s.client.Bind(ctx, in.Handle.Name, in.Handle); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Service) unbind(ctx context.Context, in *NameRequest) (any, error) {
	if err := s.client.Unbind(ctx, in.Name); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Service) lookup(ctx context.Context, in *NameRequest) (any, error) {
	h, err := s.client.Lookup(ctx, in.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LookupResponse{Handle: h}, nil
}

func (s *Service) list(ctx context.Context, _ *rpc.Empty) (any, error) {
	names, err := s.client.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListResponse{Names: names}, nil
}

func toStatus(err error) error {
	switch rferrors.KindOf(err) {
	case rferrors.KindNotBound:
		return rpc.Errorf(codes.NotFound, "%s", err)
	case rferrors.KindAlreadyBound:
		return rpc.Errorf(codes.AlreadyExists, "%s", err)
	default:
		return rpc.Errorf(codes.Unavailable, "%s", err)
	}
}

// ServiceDesc describes the registry service for rpc.Server.Register.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Bind", Handler: rpc.Unary("/"+serviceName+"/Bind", (*Service).bind)},
		{MethodName: "Unbind", Handler: rpc.Unary("/"+serviceName+"/Unbind", (*Service).unbind)},
		{MethodName: "Lookup", Handler: rpc.Unary("/"+serviceName+"/Lookup", (*Service).lookup)},
		{MethodName: "List", Handler: rpc.Unary("/"+serviceName+"/List", (*Service).list)},
	},
}

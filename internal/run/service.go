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

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/tombee/runfactory/internal/rpc"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

const serviceName = "runfactory.Run"

// StatusRequest is the payload of Run/Status and Run/SetStatus. Status is
// ignored by Run/Status.
type StatusRequest struct {
	ID     string `json:"id"`
	Status Status `json:"status,omitempty"`
}

// StatusResponse is the reply of both Run methods.
type StatusResponse struct {
	Status Status `json:"status"`
}

// Service exposes the runs of a Table over gRPC.
type Service struct {
	table *Table
}

// NewService wraps table for registration with an rpc.Server.
func NewService(table *Table) *Service {
	return &Service{table: table}
}

func (s *Service) status(ctx context.Context, in *StatusRequest) (any, error) {
	h, ok := s.table.Get(in.ID)
	if !ok {
		return nil, rpc.Errorf(codes.NotFound, "run %s not found", in.ID)
	}
	st, err := h.Status(ctx)
	if err != nil {
		return nil, rpc.Errorf(codes.Internal, "%s", err)
	}
	return &StatusResponse{Status: st}, nil
}

func (s *Service) setStatus(ctx context.Context, in *StatusRequest) (any, error) {
	to, err := ParseStatus(string(in.Status))
	if err != nil {
		return nil, rpc.Errorf(codes.InvalidArgument, "%s", err)
	}
	h, ok := s.table.Get(in.ID)
	if !ok {
		return nil, rpc.Errorf(codes.NotFound, "run %s not found", in.ID)
	}
	st, err := h.SetStatus(ctx, to)
	if err != nil {
		if rferrors.Is(err, rferrors.ErrIllegalStateTransition) {
			return nil, rpc.Errorf(codes.FailedPrecondition, "%s", err)
		}
		return nil, rpc.Errorf(codes.Internal, "%s", err)
	}
	return &StatusResponse{Status: st}, nil
}

// ServiceDesc describes the run service for rpc.Server.Register.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: rpc.Unary("/"+serviceName+"/Status", (*Service).status)},
		{MethodName: "SetStatus", Handler: rpc.Unary("/"+serviceName+"/SetStatus", (*Service).setStatus)},
	},
}

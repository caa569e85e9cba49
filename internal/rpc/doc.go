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

/*
Package rpc provides the gRPC plumbing shared by the registry, factory and run
services.

Services are described with hand-written grpc.ServiceDesc values and carry
plain Go structs encoded as JSON, so no generated code is required. Clients
select the codec with the "json" content subtype:

	conn, err := rpc.Dial(ctx, "127.0.0.1:7311")
	if err != nil {
	    return err
	}
	defer conn.Close()

	var out registry.LookupResponse
	err = conn.Invoke(ctx, "/runfactory.Registry/Lookup", &in, &out)

# Server Setup

	srv := rpc.NewServer(&rpc.ServerConfig{Address: "127.0.0.1:0", Logger: logger})
	srv.Register(&registry.ServiceDesc, registry.NewService(store))
	addr, err := srv.Start(ctx)

Every unary call passes through a logging interceptor built on the
internal/log RPC middleware.

# Errors

Handlers return status errors (see Errorf and Code). Callers translate codes
back into pkg/errors kinds at the package boundary that owns the contract.
*/
package rpc

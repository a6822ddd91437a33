// Copyright Project Contour Authors
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

package controlplane

import (
	"context"

	"google.golang.org/grpc"
)

// DataplaneConfigClient is the client API for the DataplaneConfig service
// described in proto/dataplane.proto.
type DataplaneConfigClient interface {
	Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (DataplaneConfig_WatchClient, error)
}

type dataplaneConfigClient struct {
	cc grpc.ClientConnInterface
}

// NewDataplaneConfigClient wraps an established grpc.ClientConn.
func NewDataplaneConfigClient(cc grpc.ClientConnInterface) DataplaneConfigClient {
	return &dataplaneConfigClient{cc}
}

func (c *dataplaneConfigClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (DataplaneConfig_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &_DataplaneConfig_serviceDesc.Streams[0], "/dataplane.v1.DataplaneConfig/Watch", opts...)
	if err != nil {
		return nil, err
	}
	x := &dataplaneConfigWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// DataplaneConfig_WatchClient is the streaming handle returned by Watch: the
// reconciler calls Recv in a loop until it returns an error (including
// io.EOF on a clean server-side stream close).
type DataplaneConfig_WatchClient interface {
	Recv() (*Snapshot, error)
	grpc.ClientStream
}

type dataplaneConfigWatchClient struct {
	grpc.ClientStream
}

func (x *dataplaneConfigWatchClient) Recv() (*Snapshot, error) {
	m := new(Snapshot)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DataplaneConfigServer is the server API for the DataplaneConfig service.
// The dataplane does not implement this interface itself — it is the
// contract the control plane (a separate process) implements —
// but it is kept alongside the client so the service descriptor below can
// be shared with test doubles.
type DataplaneConfigServer interface {
	Watch(*WatchRequest, DataplaneConfig_WatchServer) error
}

// DataplaneConfig_WatchServer is the streaming handle a test double's Watch
// implementation uses to push Snapshot messages.
type DataplaneConfig_WatchServer interface {
	Send(*Snapshot) error
	grpc.ServerStream
}

type dataplaneConfigWatchServer struct {
	grpc.ServerStream
}

func (x *dataplaneConfigWatchServer) Send(m *Snapshot) error {
	return x.ServerStream.SendMsg(m)
}

func _DataplaneConfig_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DataplaneConfigServer).Watch(m, &dataplaneConfigWatchServer{stream})
}

// RegisterDataplaneConfigServer registers an implementation (normally only
// used by tests standing in for the control plane) with a *grpc.Server.
func RegisterDataplaneConfigServer(s grpc.ServiceRegistrar, srv DataplaneConfigServer) {
	s.RegisterService(&_DataplaneConfig_serviceDesc, srv)
}

var _DataplaneConfig_serviceDesc = grpc.ServiceDesc{
	ServiceName: "dataplane.v1.DataplaneConfig",
	HandlerType: (*DataplaneConfigServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _DataplaneConfig_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "dataplane.proto",
}

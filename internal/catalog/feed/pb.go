package feed

import "google.golang.org/grpc"

// SlotUpdate is a streamed inventory change from a partner system.
type SlotUpdate struct {
	SlotId          string
	CenterId        string
	Service         string
	City            string
	StartTimeUnix   int64
	PriceCents      int64
	TurnaroundHours int32
	Status          string
}

// Ack is returned when the stream closes.
type Ack struct{}

// SlotFeedServer defines the gRPC contract.
type SlotFeedServer interface {
	StreamSlots(SlotFeed_StreamSlotsServer) error
}

// RegisterSlotFeedServer registers the service implementation.
func RegisterSlotFeedServer(s *grpc.Server, srv SlotFeedServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "catalog.SlotFeed",
		HandlerType: (*SlotFeedServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamSlots",
			Handler:       _SlotFeed_StreamSlots_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// SlotFeed_StreamSlotsServer defines the bidi stream interface.
type SlotFeed_StreamSlotsServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*SlotUpdate, error)
}

func _SlotFeed_StreamSlots_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SlotFeedServer).StreamSlots(&slotFeedStreamServer{ServerStream: stream})
}

type slotFeedStreamServer struct {
	grpc.ServerStream
}

func (s *slotFeedStreamServer) SendAndClose(*Ack) error { return nil }

func (s *slotFeedStreamServer) Recv() (*SlotUpdate, error) {
	msg := new(SlotUpdate)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

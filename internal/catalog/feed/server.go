package feed

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/catalog/repository"
)

// Server ingests partner slot updates and applies them to the catalog.
type Server struct {
	catalog *repository.MemoryCatalog
}

// NewServer constructs a feed server.
func NewServer(catalog *repository.MemoryCatalog) *Server {
	return &Server{catalog: catalog}
}

// StreamSlots consumes slot updates until the partner closes the stream.
// Malformed updates are skipped; the stream stays open.
func (s *Server) StreamSlots(stream SlotFeed_StreamSlotsServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		slotID, err := uuid.Parse(msg.SlotId)
		if err != nil {
			continue
		}
		centerID, err := uuid.Parse(msg.CenterId)
		if err != nil {
			continue
		}
		status := domain.SlotStatus(msg.Status)
		if status == "" {
			status = domain.SlotOpen
		}
		s.catalog.UpsertSlot(stream.Context(), domain.Slot{
			ID:              slotID,
			CenterID:        centerID,
			Service:         msg.Service,
			City:            msg.City,
			StartTime:       time.Unix(msg.StartTimeUnix, 0).UTC(),
			PriceCents:      msg.PriceCents,
			TurnaroundHours: int(msg.TurnaroundHours),
			Status:          status,
		})
	}
}

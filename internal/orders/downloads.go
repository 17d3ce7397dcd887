package orders

import (
	"context"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

// DownloadRequest carries the audit fields recorded for each attempt.
type DownloadRequest struct {
	IPAddress string
	UserAgent string
}

type DownloadGrant struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// Download hands a completed digital order's file to its customer and
// records one audit row per attempt.
func (s *Service) Download(ctx context.Context, actor Actor, orderID uint64, req DownloadRequest) (*DownloadGrant, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(order, actor, enums.RoleCustomer); err != nil {
		return nil, err
	}
	if order.ListingType() != enums.ListingTypeDigitalProduct {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only digital products can be downloaded")
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the download is available once the order is completed")
	}
	if order.Listing == nil || order.Listing.DigitalFilePath == nil || *order.Listing.DigitalFilePath == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "this product has no file attached")
	}

	if err := s.repo.CreateDownload(ctx, &models.DigitalDownload{
		OrderID:      order.ID,
		UserID:       actor.UserID,
		DownloadedAt: s.now().UTC(),
		IPAddress:    req.IPAddress,
		UserAgent:    truncate(req.UserAgent, 512),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download")
	}

	path := *order.Listing.DigitalFilePath
	return &DownloadGrant{URL: s.fileURL(path), FileName: fileName(path)}, nil
}

func fileName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}

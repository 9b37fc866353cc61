package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const clientsCollection = "clients"

// ClientRepository resolves clients and their loyalty tier.
type ClientRepository struct {
	base *pfirestore.BaseRepository[clientDocument]
}

var _ repositories.ClientRepository = (*ClientRepository)(nil)

func NewClientRepository(provider *pfirestore.Provider) (*ClientRepository, error) {
	if provider == nil {
		return nil, errors.New("client repository requires firestore provider")
	}
	return &ClientRepository{base: pfirestore.NewBaseRepository[clientDocument](provider, clientsCollection)}, nil
}

func (r *ClientRepository) FindByID(ctx context.Context, clientID string) (domain.Client, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(clientID))
	if err != nil {
		return domain.Client{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// PutClient upserts a client record.
func (r *ClientRepository) PutClient(ctx context.Context, client domain.Client) error {
	return r.base.Set(ctx, client.ID, clientDocument{
		Name:      strings.TrimSpace(client.Name),
		Email:     strings.TrimSpace(client.Email),
		Tier:      string(client.Tier),
		CreatedAt: client.CreatedAt.UTC(),
	})
}

type clientDocument struct {
	Name      string    `firestore:"name"`
	Email     string    `firestore:"email"`
	Tier      string    `firestore:"tier"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// toDomain maps an unrecognised stored tier to STANDARD so a bad record never grants a discount.
func (d clientDocument) toDomain(id string) domain.Client {
	tier, ok := domain.ParseClientTier(d.Tier)
	if !ok {
		tier = domain.ClientTierStandard
	}
	return domain.Client{
		ID:        id,
		Name:      d.Name,
		Email:     d.Email,
		Tier:      tier,
		CreatedAt: d.CreatedAt,
	}
}

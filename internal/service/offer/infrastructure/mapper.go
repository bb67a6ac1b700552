package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

func toDomainOffer(m *OfferModel) (*domain.Offer, error) {
	o := &domain.Offer{
		Kind:                domain.Kind(m.Kind),
		StoreCode:           m.StoreCode,
		OfferCode:           m.OfferCode,
		Campaign:            m.Campaign,
		Status:              domain.Status(m.StatusID),
		StgCouponID:         m.StgCouponID,
		StgUpgradeCouponID:  m.StgUpgradeCouponID,
		ProdCouponID:        m.ProdCouponID,
		ProdUpgradeCouponID: m.ProdUpgradeCouponID,
		GLRollbackVersion:   m.GLRollbackVersion,
		BuildKey:            m.BuildKey,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.DraftData != "" {
		if err := json.Unmarshal([]byte(m.DraftData), &o.Draft); err != nil {
			return nil, errors.Wrapf(err, "decode draft_data of %s", o.Key())
		}
	}
	if m.DataIntegrity != "" {
		if err := json.Unmarshal([]byte(m.DataIntegrity), &o.DataIntegrity); err != nil {
			return nil, errors.Wrapf(err, "decode data_integrity of %s", o.Key())
		}
	}
	return o, nil
}

func fromDomainOffer(o *domain.Offer) (*OfferModel, error) {
	draft, err := json.Marshal(o.Draft)
	if err != nil {
		return nil, errors.Wrap(err, "encode draft_data")
	}
	dit, err := json.Marshal(o.DataIntegrity)
	if err != nil {
		return nil, errors.Wrap(err, "encode data_integrity")
	}
	return &OfferModel{
		StoreCode:           o.StoreCode,
		OfferCode:           o.OfferCode,
		Kind:                string(o.Kind),
		Campaign:            o.Campaign,
		StatusID:            int(o.Status),
		DraftData:           string(draft),
		StgCouponID:         o.StgCouponID,
		StgUpgradeCouponID:  o.StgUpgradeCouponID,
		ProdCouponID:        o.ProdCouponID,
		ProdUpgradeCouponID: o.ProdUpgradeCouponID,
		GLRollbackVersion:   o.GLRollbackVersion,
		BuildKey:            o.BuildKey,
		DataIntegrity:       string(dit),
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}, nil
}

func toDomainHistory(m *OfferHistoryModel) (*domain.History, error) {
	h := &domain.History{
		StoreCode: m.StoreCode,
		OfferCode: m.OfferCode,
		Action:    domain.HistoryAction(m.Action),
		Status:    domain.Status(m.StatusID),
		Env:       collaborator.Env(m.Env),
		CreatedAt: m.CreatedAt,
	}
	if m.Changes != "" && m.Changes != "null" {
		if err := json.Unmarshal([]byte(m.Changes), &h.Changes); err != nil {
			return nil, errors.Wrap(err, "decode history changes")
		}
	}
	return h, nil
}

func fromDomainHistory(h *domain.History) (*OfferHistoryModel, error) {
	changes, err := json.Marshal(h.Changes)
	if err != nil {
		return nil, errors.Wrap(err, "encode history changes")
	}
	return &OfferHistoryModel{
		StoreCode: h.StoreCode,
		OfferCode: h.OfferCode,
		Action:    string(h.Action),
		StatusID:  int(h.Status),
		Env:       string(h.Env),
		Changes:   string(changes),
		CreatedAt: h.CreatedAt,
	}, nil
}

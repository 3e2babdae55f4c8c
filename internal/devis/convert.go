package devis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/store"
)

// CommandeRef is the conversion result returned to the caller.
type CommandeRef struct {
	ID     string `json:"id"`
	Numero string `json:"numero"`
}

// ConvertToCommande turns a signed devis into a commande. The commande copies
// the client, a snapshot of the lignes and the totals; the devis keeps a
// pointer to it. Converting twice is a conflict.
func (s *Service) ConvertToCommande(ctx context.Context, devisID string) (CommandeRef, error) {
	if err := s.ready(); err != nil {
		return CommandeRef{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return CommandeRef{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return CommandeRef{}, notFound("devis")
	}

	var ref CommandeRef
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if d.Status != store.DevisStatusSigne && d.Status != store.DevisStatusAcompteRegle {
			return common.NewAppError("INVALID_STATE",
				fmt.Sprintf("only a signed devis can become a commande (status is %s)", d.Status),
				http.StatusBadRequest, nil)
		}
		if d.CommandeID.Valid {
			return common.NewAppError("CONFLICT", "devis already converted to a commande", http.StatusConflict, nil)
		}

		lignes, err := q.ListLignes(ctx, did)
		if err != nil {
			return err
		}
		elements := make([]Element, 0, len(lignes))
		for _, l := range lignes {
			elements = append(elements, convertElement(l))
		}
		snapshot, err := json.Marshal(elements)
		if err != nil {
			return err
		}

		numero := commandeNumero(s.NumeroPrefix, d.Numero)
		created, err := q.CreateCommande(ctx, store.CreateCommandeParams{
			ID:             store.NewUUID(),
			SocieteID:      sid,
			ClientID:       d.ClientID,
			DevisID:        did,
			Numero:         numero,
			TotalHT:        d.TotalHT,
			TotalTVA:       d.TotalTVA,
			TotalTTC:       d.TotalTTC,
			LignesSnapshot: snapshot,
		})
		if err != nil {
			return mapStoreError(err, "commande")
		}
		if err := q.SetDevisCommande(ctx, store.SetDevisCommandeParams{ID: did, CommandeID: created.ID}); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]string{"devis_numero": d.Numero, "commande_numero": created.Numero})
		if _, err := q.InsertEvent(ctx, store.InsertEventParams{
			ID:          store.NewUUID(),
			SocieteID:   sid,
			Type:        "devis.converti_commande",
			AggregateID: did,
			Payload:     payload,
		}); err != nil {
			return err
		}
		ref = CommandeRef{ID: store.UUIDString(created.ID), Numero: created.Numero}
		return nil
	})
	obs.ObserveConversion("devis_commande", err)
	if err != nil {
		return CommandeRef{}, err
	}
	return ref, nil
}

// commandeNumero derives the commande number from the devis number so both
// documents share one sequence: DEV-2026-0042 becomes CMD-2026-0042.
func commandeNumero(devisPrefix, devisNumero string) string {
	suffix := strings.TrimPrefix(devisNumero, devisPrefix+"-")
	return "CMD-" + suffix
}

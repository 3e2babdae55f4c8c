package devis_test

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/devis"
	"github.com/technoprod/backend-gestion/internal/store"
)

// fakeStore is an in-memory stand-in for the SQL store. It implements
// devis.Querier and devis.TxRunner; RunTx simply runs the callback against
// the fake itself.
type fakeStore struct {
	devis     map[string]store.Devis
	lignes    map[string]store.DevisLigne
	clients   map[string]store.Client
	produits  map[string]store.Produit
	commandes map[string]store.Commande
	events    []store.Event
	counters  map[string]int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devis:     map[string]store.Devis{},
		lignes:    map[string]store.DevisLigne{},
		clients:   map[string]store.Client{},
		produits:  map[string]store.Produit{},
		commandes: map[string]store.Commande{},
		counters:  map[string]int32{},
	}
}

func (f *fakeStore) RunTx(ctx context.Context, fn func(q devis.Querier) error) error {
	return fn(f)
}

func key(id pgtype.UUID) string { return store.UUIDString(id) }

func (f *fakeStore) CreateDevis(_ context.Context, arg store.CreateDevisParams) (store.Devis, error) {
	d := store.Devis{
		ID:           arg.ID,
		SocieteID:    arg.SocieteID,
		ClientID:     arg.ClientID,
		Numero:       arg.Numero,
		Status:       store.DevisStatusBrouillon,
		Objet:        arg.Objet,
		DateDevis:    arg.DateDevis,
		DateValidite: arg.DateValidite,
		Version:      1,
	}
	f.devis[key(arg.ID)] = d
	return d, nil
}

func (f *fakeStore) GetDevis(_ context.Context, arg store.GetDevisParams) (store.Devis, error) {
	d, ok := f.devis[key(arg.ID)]
	if !ok || key(d.SocieteID) != key(arg.SocieteID) {
		return store.Devis{}, pgx.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) GetDevisForUpdate(ctx context.Context, arg store.GetDevisParams) (store.Devis, error) {
	return f.GetDevis(ctx, arg)
}

func (f *fakeStore) ListDevis(_ context.Context, arg store.ListDevisParams) ([]store.Devis, error) {
	var out []store.Devis
	for _, d := range f.devis {
		if key(d.SocieteID) != key(arg.SocieteID) {
			continue
		}
		if arg.Status.Valid && d.Status != arg.Status.String {
			continue
		}
		if arg.ClientID.Valid && key(d.ClientID) != key(arg.ClientID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) CountDevis(ctx context.Context, arg store.CountDevisParams) (int64, error) {
	rows, _ := f.ListDevis(ctx, store.ListDevisParams{SocieteID: arg.SocieteID, Status: arg.Status, ClientID: arg.ClientID, Limit: 1 << 30})
	return int64(len(rows)), nil
}

func (f *fakeStore) UpdateDevisHeader(_ context.Context, arg store.UpdateDevisHeaderParams) (store.Devis, error) {
	d, ok := f.devis[key(arg.ID)]
	if !ok {
		return store.Devis{}, pgx.ErrNoRows
	}
	d.ClientID = arg.ClientID
	d.Objet = arg.Objet
	d.DateDevis = arg.DateDevis
	d.DateValidite = arg.DateValidite
	d.Version++
	f.devis[key(arg.ID)] = d
	return d, nil
}

func (f *fakeStore) UpdateDevisTotals(_ context.Context, arg store.UpdateDevisTotalsParams) (store.Devis, error) {
	d, ok := f.devis[key(arg.ID)]
	if !ok {
		return store.Devis{}, pgx.ErrNoRows
	}
	d.TotalHT = arg.TotalHT
	d.TotalTVA = arg.TotalTVA
	d.TotalTTC = arg.TotalTTC
	d.Version++
	f.devis[key(arg.ID)] = d
	return d, nil
}

func (f *fakeStore) UpdateDevisStatus(_ context.Context, arg store.UpdateDevisStatusParams) (store.Devis, error) {
	d, ok := f.devis[key(arg.ID)]
	if !ok {
		return store.Devis{}, pgx.ErrNoRows
	}
	d.Status = arg.Status
	d.Version++
	f.devis[key(arg.ID)] = d
	return d, nil
}

func (f *fakeStore) SetDevisCommande(_ context.Context, arg store.SetDevisCommandeParams) error {
	d, ok := f.devis[key(arg.ID)]
	if !ok {
		return pgx.ErrNoRows
	}
	d.CommandeID = arg.CommandeID
	d.Version++
	f.devis[key(arg.ID)] = d
	return nil
}

func (f *fakeStore) DeleteDevis(_ context.Context, arg store.GetDevisParams) (int64, error) {
	d, ok := f.devis[key(arg.ID)]
	if !ok || key(d.SocieteID) != key(arg.SocieteID) {
		return 0, nil
	}
	delete(f.devis, key(arg.ID))
	for id, l := range f.lignes {
		if key(l.DevisID) == key(arg.ID) {
			delete(f.lignes, id)
		}
	}
	return 1, nil
}

func (f *fakeStore) NextDevisNumero(_ context.Context, arg store.NextDevisNumeroParams) (int32, error) {
	k := key(arg.SocieteID)
	f.counters[k]++
	return f.counters[k], nil
}

func (f *fakeStore) InsertLigne(_ context.Context, arg store.InsertLigneParams) (store.DevisLigne, error) {
	l := store.DevisLigne{
		ID:           arg.ID,
		DevisID:      arg.DevisID,
		Kind:         arg.Kind,
		Position:     arg.Position,
		Designation:  arg.Designation,
		Description:  arg.Description,
		Quantite:     arg.Quantite,
		PrixUnitaire: arg.PrixUnitaire,
		RemisePct:    arg.RemisePct,
		TauxTVA:      arg.TauxTVA,
		TotalHT:      arg.TotalHT,
		TotalTTC:     arg.TotalTTC,
		ProduitID:    arg.ProduitID,
		Params:       arg.Params,
	}
	f.lignes[key(arg.ID)] = l
	return l, nil
}

func (f *fakeStore) GetLigne(_ context.Context, arg store.GetLigneParams) (store.DevisLigne, error) {
	l, ok := f.lignes[key(arg.ID)]
	if !ok || key(l.DevisID) != key(arg.DevisID) {
		return store.DevisLigne{}, pgx.ErrNoRows
	}
	return l, nil
}

func (f *fakeStore) ListLignes(_ context.Context, devisID pgtype.UUID) ([]store.DevisLigne, error) {
	var out []store.DevisLigne
	for _, l := range f.lignes {
		if key(l.DevisID) == key(devisID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStore) UpdateLigne(_ context.Context, arg store.UpdateLigneParams) (store.DevisLigne, error) {
	l, ok := f.lignes[key(arg.ID)]
	if !ok || key(l.DevisID) != key(arg.DevisID) {
		return store.DevisLigne{}, pgx.ErrNoRows
	}
	l.Designation = arg.Designation
	l.Description = arg.Description
	l.Quantite = arg.Quantite
	l.PrixUnitaire = arg.PrixUnitaire
	l.RemisePct = arg.RemisePct
	l.TauxTVA = arg.TauxTVA
	l.TotalHT = arg.TotalHT
	l.TotalTTC = arg.TotalTTC
	l.ProduitID = arg.ProduitID
	l.Params = arg.Params
	f.lignes[key(arg.ID)] = l
	return l, nil
}

func (f *fakeStore) DeleteLigne(_ context.Context, arg store.GetLigneParams) (int64, error) {
	l, ok := f.lignes[key(arg.ID)]
	if !ok || key(l.DevisID) != key(arg.DevisID) {
		return 0, nil
	}
	delete(f.lignes, key(arg.ID))
	return 1, nil
}

func (f *fakeStore) ShiftPositionsUp(_ context.Context, arg store.ShiftPositionsParams) (int64, error) {
	var n int64
	for id, l := range f.lignes {
		if key(l.DevisID) == key(arg.DevisID) && l.Position >= arg.Position {
			l.Position++
			f.lignes[id] = l
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ShiftPositionsDown(_ context.Context, arg store.ShiftPositionsParams) (int64, error) {
	var n int64
	for id, l := range f.lignes {
		if key(l.DevisID) == key(arg.DevisID) && l.Position > arg.Position {
			l.Position--
			f.lignes[id] = l
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetLignePosition(_ context.Context, arg store.SetLignePositionParams) (int64, error) {
	l, ok := f.lignes[key(arg.ID)]
	if !ok || key(l.DevisID) != key(arg.DevisID) {
		return 0, nil
	}
	l.Position = arg.Position
	f.lignes[key(arg.ID)] = l
	return 1, nil
}

func (f *fakeStore) NextPosition(ctx context.Context, devisID pgtype.UUID) (int32, error) {
	lignes, _ := f.ListLignes(ctx, devisID)
	if len(lignes) == 0 {
		return 0, nil
	}
	return lignes[len(lignes)-1].Position + 1, nil
}

func (f *fakeStore) ListLigneIDs(ctx context.Context, devisID pgtype.UUID) ([]pgtype.UUID, error) {
	lignes, _ := f.ListLignes(ctx, devisID)
	ids := make([]pgtype.UUID, 0, len(lignes))
	for _, l := range lignes {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (f *fakeStore) GetClient(_ context.Context, arg store.GetClientParams) (store.Client, error) {
	c, ok := f.clients[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return store.Client{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) GetProduit(_ context.Context, arg store.GetProduitParams) (store.Produit, error) {
	p, ok := f.produits[key(arg.ID)]
	if !ok || key(p.SocieteID) != key(arg.SocieteID) {
		return store.Produit{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) CreateCommande(_ context.Context, arg store.CreateCommandeParams) (store.Commande, error) {
	c := store.Commande{
		ID:             arg.ID,
		SocieteID:      arg.SocieteID,
		ClientID:       arg.ClientID,
		DevisID:        arg.DevisID,
		Numero:         arg.Numero,
		Status:         "en_cours",
		TotalHT:        arg.TotalHT,
		TotalTVA:       arg.TotalTVA,
		TotalTTC:       arg.TotalTTC,
		LignesSnapshot: arg.LignesSnapshot,
	}
	f.commandes[key(arg.ID)] = c
	return c, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, arg store.InsertEventParams) (store.Event, error) {
	e := store.Event{
		ID:          arg.ID,
		SocieteID:   arg.SocieteID,
		Type:        arg.Type,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
	}
	f.events = append(f.events, e)
	return e, nil
}

package engine

import (
	"docbase/query"
)

// ResolveJoin runs join against sibling for every document in docs,
// attaching the result under join.Field. It runs synchronously and is
// meant to be called after a Find/FindReverse callback has delivered
// its match list, since a join crosses database instances and the
// scheduler only serializes access within one instance.
func ResolveJoin(docs []Document, join *query.JoinSpec, sibling *DocumentEngine) ([]Document, error) {
	if join == nil || sibling == nil {
		return docs, nil
	}
	for i, doc := range docs {
		qb := query.New().Where(join.OnForeign, "==", doc[join.OnLocal])
		if join.First {
			qb.First()
		}
		if join.ScalarType != query.ScalarNone {
			qb.Scalar(join.ScalarType, join.ScalarField)
		}

		result := make(chan any, 1)
		errc := make(chan error, 1)
		sibling.Find(qb, func(err error, res any, count int) {
			if err != nil {
				errc <- err
				return
			}
			result <- res
		})

		select {
		case err := <-errc:
			return nil, err
		case res := <-result:
			docs[i][join.Field] = res
		}
	}
	return docs, nil
}

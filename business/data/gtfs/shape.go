package gtfs

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

/*
Shape contains rows from the GTFS shapes.txt file
*/
type Shape struct {
	ShapeId           string   `db:"shape_id" json:"shape_id"`
	ShapePtLat        float64  `db:"shape_pt_lat" json:"shape_pt_lat"`
	ShapePtLng        float64  `db:"shape_pt_lon" json:"shape_pt_lon"`
	ShapePtSequence   int      `db:"shape_pt_sequence" json:"shape_pt_sequence"`
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
}

// GetShapes retrieves the points of a shape ordered by shape_pt_sequence.
func GetShapes(ctx context.Context, ext sqlx.ExtContext, shapeId string) ([]*Shape, error) {
	query := ext.Rebind("select * from shape where shape_id = ? order by shape_pt_sequence")
	shapes := make([]*Shape, 0)
	if err := sqlx.SelectContext(ctx, ext, &shapes, query, shapeId); err != nil {
		return nil, fmt.Errorf("unable to retrieve shapes. query:%s error: %w", query, err)
	}
	return shapes, nil
}

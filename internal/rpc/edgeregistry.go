package rpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// edgeRegistryServiceDesc hand-wires the Edge Registry's single unary RPC:
// given a relation tree and a starting object set, resolve every object
// reachable through it.
var edgeRegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: "cdl.registry.EdgeRegistry",
	HandlerType: (*EdgeRegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveTree", Handler: unaryHandler("/cdl.registry.EdgeRegistry/ResolveTree", edgeRegistryResolveTreeHandler)},
	},
	Metadata: "cdl/registry.proto",
}

// EdgeRegistryServer resolves a relation tree against the object graph,
// starting from the caller-supplied filter set.
type EdgeRegistryServer interface {
	ResolveTree(ctx context.Context, relations []cdl.TreeQuery, filterIDs []uuid.UUID) (cdl.TreeResponse, error)
}

func edgeRegistryResolveTreeHandler(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	relations, err := structToTreeQueries(getList(req, "relations"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid relations: %w", err)
	}
	filterIDs, err := structToUUIDs(getList(req, "filter_ids"))
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid filter_ids: %w", err)
	}

	resp, err := srv.(EdgeRegistryServer).ResolveTree(ctx, relations, filterIDs)
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{"objects": treeResponseToValue(resp)})
}

// RegisterEdgeRegistryServer registers srv against s.
func RegisterEdgeRegistryServer(s grpc.ServiceRegistrar, srv EdgeRegistryServer) {
	s.RegisterService(&edgeRegistryServiceDesc, srv)
}

// EdgeRegistryClient is the Object Builder's view-plan collaborator,
// backed by a live gRPC connection.
type EdgeRegistryClient struct {
	conn *grpc.ClientConn
}

// NewEdgeRegistryClient wraps an established connection.
func NewEdgeRegistryClient(conn *grpc.ClientConn) *EdgeRegistryClient {
	return &EdgeRegistryClient{conn: conn}
}

// ResolveTree asks the edge registry to walk relations starting from
// filterIDs, returning every object reached.
func (c *EdgeRegistryClient) ResolveTree(ctx context.Context, relations []cdl.TreeQuery, filterIDs []uuid.UUID) (cdl.TreeResponse, error) {
	ids := make([]any, len(filterIDs))
	for i, id := range filterIDs {
		ids[i] = id.String()
	}
	req, err := structpb.NewStruct(map[string]any{
		"relations":  treeQueriesToValue(relations),
		"filter_ids": ids,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: encode resolve tree request: %w", err)
	}

	resp, err := unaryInvoke(ctx, c.conn, "/cdl.registry.EdgeRegistry/ResolveTree", req)
	if err != nil {
		return nil, fmt.Errorf("rpc: resolve tree: %w", err)
	}
	return structToTreeResponse(getList(resp, "objects"))
}

func treeQueriesToValue(qs []cdl.TreeQuery) []any {
	out := make([]any, len(qs))
	for i, q := range qs {
		out[i] = map[string]any{
			"relation_id": q.RelationID.String(),
			"search_for":  float64(q.SearchFor),
			"relations":   treeQueriesToValue(q.Relations),
		}
	}
	return out
}

func structToTreeQueries(vs []*structpb.Value) ([]cdl.TreeQuery, error) {
	out := make([]cdl.TreeQuery, 0, len(vs))
	for _, v := range vs {
		s := v.GetStructValue()
		relationID, err := uuid.Parse(getString(s, "relation_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid relation_id: %w", err)
		}
		nested, err := structToTreeQueries(getList(s, "relations"))
		if err != nil {
			return nil, err
		}
		out = append(out, cdl.TreeQuery{
			RelationID: relationID,
			SearchFor:  cdl.SearchFor(int(getNumber(s, "search_for"))),
			Relations:  nested,
		})
	}
	return out, nil
}

func structToUUIDs(vs []*structpb.Value) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(vs))
	for _, v := range vs {
		id, err := uuid.Parse(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func treeResponseToValue(resp cdl.TreeResponse) []any {
	out := make([]any, len(resp))
	for i, obj := range resp {
		out[i] = map[string]any{
			"object_id":        obj.ObjectID.String(),
			"parent_object_id": obj.ParentObjectID.String(),
			"relation_id":      obj.RelationID.String(),
			"parent_schema_id": obj.Relation.ParentSchemaID.String(),
			"child_schema_id":  obj.Relation.ChildSchemaID.String(),
			"children":         uuidsToValue(obj.Children),
			"subtrees":         subtreesToValue(obj.Subtrees),
		}
	}
	return out
}

func uuidsToValue(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func subtreesToValue(subtrees []cdl.TreeResponse) []any {
	out := make([]any, len(subtrees))
	for i, st := range subtrees {
		out[i] = treeResponseToValue(st)
	}
	return out
}

func structToTreeResponse(vs []*structpb.Value) (cdl.TreeResponse, error) {
	out := make(cdl.TreeResponse, 0, len(vs))
	for _, v := range vs {
		s := v.GetStructValue()

		objectID, err := uuid.Parse(getString(s, "object_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid object_id: %w", err)
		}
		parentObjectID, err := uuid.Parse(getString(s, "parent_object_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid parent_object_id: %w", err)
		}
		relationID, err := uuid.Parse(getString(s, "relation_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid relation_id: %w", err)
		}
		parentSchemaID, err := uuid.Parse(getString(s, "parent_schema_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid parent_schema_id: %w", err)
		}
		childSchemaID, err := uuid.Parse(getString(s, "child_schema_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid child_schema_id: %w", err)
		}
		children, err := structToUUIDs(getList(s, "children"))
		if err != nil {
			return nil, fmt.Errorf("invalid children: %w", err)
		}

		subtreeValues := getList(s, "subtrees")
		subtrees := make([]cdl.TreeResponse, 0, len(subtreeValues))
		for _, sv := range subtreeValues {
			subtree, err := structToTreeResponse(sv.GetListValue().GetValues())
			if err != nil {
				return nil, err
			}
			subtrees = append(subtrees, subtree)
		}

		out = append(out, cdl.TreeObject{
			ObjectID:       objectID,
			ParentObjectID: parentObjectID,
			RelationID:     relationID,
			Relation:       cdl.RelationEdge{ParentSchemaID: parentSchemaID, ChildSchemaID: childSchemaID},
			Children:       children,
			Subtrees:       subtrees,
		})
	}
	return out, nil
}

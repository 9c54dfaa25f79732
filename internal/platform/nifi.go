package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/version"
)

const (
	apiPrefix = "/nifi-api"
	clientID  = "flowdeck"
)

// NiFi talks to one flow-processing instance over its REST API. Processing
// units are process groups; a unit's path is the "/"-joined names of the
// groups from (but excluding) the root group down to it.
type NiFi struct {
	client *Client

	// PollInterval is how often a version update request is polled.
	PollInterval time.Duration
}

// NewNiFi creates an adapter around client.
func NewNiFi(client *Client) *NiFi {
	return &NiFi{client: client, PollInterval: 500 * time.Millisecond}
}

// group is the subset of a process group entity the adapter uses.
type group struct {
	id       string
	name     string
	version  string
	revision int64
}

func parseGroup(entity object) group {
	component := mapField(entity, "component")
	return group{
		id:       stringField(entity, "id"),
		name:     stringField(component, "name"),
		version:  stringField(mapField(component, "versionControlInformation"), "version"),
		revision: intField(mapField(entity, "revision"), "version"),
	}
}

func (n *NiFi) rootID(ctx context.Context) (string, error) {
	body, err := n.client.Get(ctx, apiPrefix+"/flow/process-groups/root", nil)
	if err != nil {
		return "", err
	}
	obj, err := decodeObject(body)
	if err != nil {
		return "", fmt.Errorf("parsing root group: %w", err)
	}
	id := stringField(mapField(obj, "processGroupFlow"), "id")
	if id == "" {
		return "", errors.New("root group response missing id")
	}
	return id, nil
}

func (n *NiFi) children(ctx context.Context, groupID string) ([]group, error) {
	body, err := n.client.Get(ctx, apiPrefix+"/flow/process-groups/"+url.PathEscape(groupID), nil)
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("parsing group %s: %w", groupID, err)
	}
	entities := sliceField(path(obj, "processGroupFlow", "flow"), "processGroups")
	out := make([]group, 0, len(entities))
	for _, e := range entities {
		g := parseGroup(e)
		if g.id != "" {
			out = append(out, g)
		}
	}
	return out, nil
}

// FetchTopology walks every process group below the root, breadth first.
func (n *NiFi) FetchTopology(ctx context.Context) ([]models.ProcessingUnit, error) {
	root, err := n.rootID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching topology: %w", err)
	}
	type pending struct{ id, path string }
	queue := []pending{{id: root}}
	var units []models.ProcessingUnit
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		kids, err := n.children(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("fetching topology: %w", err)
		}
		for _, k := range kids {
			p := k.name
			if cur.path != "" {
				p = cur.path + "/" + k.name
			}
			units = append(units, models.ProcessingUnit{ID: k.id, Path: p, Name: k.name, Version: k.version})
			queue = append(queue, pending{id: k.id, path: p})
		}
	}
	return units, nil
}

// FetchStatus combines the group's component counts, its aggregate traffic
// snapshot and its bulletins. Fields the instance omits stay absent.
func (n *NiFi) FetchStatus(ctx context.Context, unitID string) (*models.StatusSnapshot, error) {
	id := url.PathEscape(unitID)

	body, err := n.client.Get(ctx, apiPrefix+"/process-groups/"+id, nil)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, faults.New(faults.KindNotFound, "fetch status "+unitID, err)
		}
		return nil, err
	}
	entity, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("parsing group %s: %w", unitID, err)
	}
	snap := &models.StatusSnapshot{
		Running:  countField(entity, "runningCount"),
		Stopped:  countField(entity, "stoppedCount"),
		Invalid:  countField(entity, "invalidCount"),
		Disabled: countField(entity, "disabledCount"),
	}

	body, err = n.client.Get(ctx, apiPrefix+"/flow/process-groups/"+id+"/status", url.Values{"recursive": {"false"}})
	if err != nil {
		return nil, err
	}
	status, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("parsing status of %s: %w", unitID, err)
	}
	agg := path(status, "processGroupStatus", "aggregateSnapshot")
	snap.Queued = countField(agg, "flowFilesQueued")
	snap.QueuedBytes = countField(agg, "bytesQueued")
	snap.BytesIn = countField(agg, "bytesIn")
	snap.BytesOut = countField(agg, "bytesOut")
	snap.FlowFilesIn = countField(agg, "flowFilesIn")
	snap.FlowFilesOut = countField(agg, "flowFilesOut")

	body, err = n.client.Get(ctx, apiPrefix+"/flow/bulletin-board", url.Values{"groupId": {unitID}})
	if err != nil {
		return nil, err
	}
	board, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("parsing bulletins of %s: %w", unitID, err)
	}
	snap.Bulletins = parseBulletins(board)
	return snap, nil
}

func parseBulletins(board object) []models.Bulletin {
	var out []models.Bulletin
	for _, e := range sliceField(mapField(board, "bulletinBoard"), "bulletins") {
		b := mapField(e, "bulletin")
		if b == nil {
			// entries the caller may not read carry no bulletin body
			continue
		}
		out = append(out, models.Bulletin{
			Source:  stringField(b, "sourceName"),
			Message: stringField(b, "message"),
			Level:   stringField(b, "level"),
		})
	}
	return out
}

// PushFlowVersion imports ref as a version-controlled group at unitPath.
// Missing parent groups are created. If a group already sits at unitPath the
// push reports a conflict, or unchanged when it already holds ref.Version.
func (n *NiFi) PushFlowVersion(ctx context.Context, unitPath string, ref models.FlowRef) (deploy.PushResult, error) {
	segments := strings.Split(strings.Trim(unitPath, "/"), "/")
	if unitPath == "" || segments[0] == "" {
		return deploy.PushResult{}, fmt.Errorf("empty deploy path")
	}
	parent, err := n.rootID(ctx)
	if err != nil {
		return deploy.PushResult{}, err
	}

	for i, name := range segments {
		last := i == len(segments)-1
		existing, err := n.findChild(ctx, parent, name)
		if err != nil {
			return deploy.PushResult{}, err
		}
		if existing != nil {
			if !last {
				parent = existing.id
				continue
			}
			res := deploy.PushResult{Status: deploy.PushConflict, UnitID: existing.id, ExistingVersion: existing.version}
			if existing.version != "" && version.Equal(existing.version, ref.Version) {
				res.Status = deploy.PushUnchanged
			}
			return res, nil
		}

		component := object{
			"name":     name,
			"position": object{"x": 0, "y": 0},
		}
		if last {
			component["versionControlInformation"] = object{
				"registryId": ref.RegistryID,
				"bucketId":   ref.BucketID,
				"flowId":     ref.FlowID,
				"version":    versionNumber(ref.Version),
			}
			if ref.ParameterContextID != "" {
				component["parameterContext"] = object{"id": ref.ParameterContextID}
			}
		}
		payload := object{
			"revision":  object{"version": 0, "clientId": clientID},
			"component": component,
		}
		body, _, err := n.client.Post(ctx, apiPrefix+"/process-groups/"+url.PathEscape(parent)+"/process-groups", payload)
		if err != nil {
			return deploy.PushResult{}, err
		}
		created, err := decodeObject(body)
		if err != nil {
			return deploy.PushResult{}, fmt.Errorf("parsing created group: %w", err)
		}
		parent = stringField(created, "id")
		if last {
			return deploy.PushResult{Status: deploy.PushCreated, UnitID: parent}, nil
		}
	}
	return deploy.PushResult{}, fmt.Errorf("empty deploy path")
}

func (n *NiFi) findChild(ctx context.Context, parentID, name string) (*group, error) {
	kids, err := n.children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var found *group
	for i := range kids {
		if kids[i].name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("more than one process group named %q under %s", name, parentID)
		}
		found = &kids[i]
	}
	return found, nil
}

func (n *NiFi) revision(ctx context.Context, unitID string) (int64, error) {
	body, err := n.client.Get(ctx, apiPrefix+"/process-groups/"+url.PathEscape(unitID), nil)
	if err != nil {
		return 0, err
	}
	entity, err := decodeObject(body)
	if err != nil {
		return 0, fmt.Errorf("parsing group %s: %w", unitID, err)
	}
	return parseGroup(entity).revision, nil
}

// DeleteProcessingUnit removes a group at its current revision.
func (n *NiFi) DeleteProcessingUnit(ctx context.Context, unitID string) error {
	rev, err := n.revision(ctx, unitID)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil
		}
		return err
	}
	params := url.Values{
		"version":  {strconv.FormatInt(rev, 10)},
		"clientId": {clientID},
	}
	return n.client.Delete(ctx, apiPrefix+"/process-groups/"+url.PathEscape(unitID), params)
}

// UpdateProcessingUnitVersion changes a version-controlled group to v. The
// instance runs the change asynchronously; this polls the update request
// until it completes, fails, or ctx ends, and always removes the request.
func (n *NiFi) UpdateProcessingUnitVersion(ctx context.Context, unitID, v string) error {
	body, err := n.client.Get(ctx, apiPrefix+"/versions/process-groups/"+url.PathEscape(unitID), nil)
	if err != nil {
		return err
	}
	current, err := decodeObject(body)
	if err != nil {
		return fmt.Errorf("parsing version info of %s: %w", unitID, err)
	}
	vci := mapField(current, "versionControlInformation")
	if vci == nil {
		return fmt.Errorf("process group %s is not under version control", unitID)
	}
	vci["version"] = versionNumber(v)
	payload := object{
		"processGroupRevision":      mapField(current, "processGroupRevision"),
		"versionControlInformation": vci,
	}

	body, _, err = n.client.Post(ctx, apiPrefix+"/versions/update-requests/process-groups/"+url.PathEscape(unitID), payload)
	if err != nil {
		return err
	}
	reqObj, err := decodeObject(body)
	if err != nil {
		return fmt.Errorf("parsing update request: %w", err)
	}
	requestID := stringField(mapField(reqObj, "request"), "requestId")
	if requestID == "" {
		return errors.New("update request response missing requestId")
	}
	reqPath := apiPrefix + "/versions/update-requests/" + url.PathEscape(requestID)
	defer n.client.Delete(context.WithoutCancel(ctx), reqPath, nil)

	req := mapField(reqObj, "request")
	for !boolField(req, "complete") {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.PollInterval):
		}
		body, err := n.client.Get(ctx, reqPath, nil)
		if err != nil {
			return err
		}
		obj, err := decodeObject(body)
		if err != nil {
			return fmt.Errorf("parsing update request: %w", err)
		}
		req = mapField(obj, "request")
	}
	if reason := stringField(req, "failureReason"); reason != "" {
		return errors.New(reason)
	}
	return nil
}

// About returns the instance's reported version.
func (n *NiFi) About(ctx context.Context) (*AboutResponse, error) {
	body, err := n.client.Get(ctx, apiPrefix+"/flow/about", nil)
	if err != nil {
		return nil, err
	}
	return ParseAboutResponse(body)
}

// versionNumber sends numeric registry versions as numbers and anything
// else verbatim.
func versionNumber(v string) interface{} {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return v
}

// boolField safely extracts a bool field, returning false if nil.
func boolField(obj object, field string) bool {
	if v, ok := obj[field].(bool); ok {
		return v
	}
	return false
}

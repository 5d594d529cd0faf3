// Package flatten inlines a runbook's child-runbook artifacts into a single
// flat artifact set, namespacing every artifact a child contributes so that
// the same child runbook can be included more than once without collision.
package flatten

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/parser"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/pathresolver"
)

// Result is a fully flattened runbook plus the alias table describing which
// parent-facing names were rewritten to namespaced artifact ids.
type Result struct {
	Runbook *runbook.Runbook
	Aliases map[string]string
}

// Flatten recursively inlines every child_runbook artifact reachable from rb,
// detecting inclusion cycles along the way. The returned runbook contains no
// artifact of runbook.KindChild.
func Flatten(rb *runbook.Runbook) (*Result, error) {
	return flattenRec(rb, []string{rb.SourcePath})
}

func flattenRec(rb *runbook.Runbook, stack []string) (*Result, error) {
	merged := make(map[string]*runbook.ArtifactDefinition, len(rb.Artifacts))
	aliases := make(map[string]string)

	for id, def := range rb.Artifacts {
		if def.Kind() != runbook.KindChild {
			cp := *def
			merged[id] = &cp
			continue
		}

		target, err := inlineChild(rb, id, def, stack)
		if err != nil {
			return nil, err
		}
		for nsID, ndef := range target.artifacts {
			merged[nsID] = ndef
		}
		for alias, real := range target.aliases {
			aliases[alias] = real
		}
	}

	rewriteReferences(merged, aliases)

	flat := &runbook.Runbook{
		Name:        rb.Name,
		Description: rb.Description,
		Contact:     rb.Contact,
		Config:      rb.Config,
		Inputs:      rb.Inputs,
		Outputs:     rb.Outputs,
		Artifacts:   merged,
		SourcePath:  rb.SourcePath,
	}
	return &Result{Runbook: flat, Aliases: aliases}, nil
}

type inlineResult struct {
	artifacts map[string]*runbook.ArtifactDefinition
	aliases   map[string]string
}

func inlineChild(
	rb *runbook.Runbook,
	childKey string,
	def *runbook.ArtifactDefinition,
	stack []string,
) (*inlineResult, error) {
	resolvedPath, err := pathresolver.Resolve(def.Child.Path, rb.SourcePath, rb.Config.TemplatePaths)
	if err != nil {
		return nil, &runbook.FlattenError{
			ParentPath: rb.SourcePath,
			ChildPath:  def.Child.Path,
			Message:    "resolve child runbook path",
			Cause:      err,
		}
	}

	for _, visited := range stack {
		if visited == resolvedPath {
			return nil, &runbook.CycleError{Nodes: append(append([]string{}, stack...), resolvedPath)}
		}
	}

	childRb, err := parser.Parse(resolvedPath)
	if err != nil {
		return nil, &runbook.FlattenError{
			ParentPath: rb.SourcePath,
			ChildPath:  resolvedPath,
			Message:    "parse child runbook",
			Cause:      err,
		}
	}
	if !childRb.DeclaresInterface() {
		return nil, &runbook.FlattenError{
			ParentPath: rb.SourcePath,
			ChildPath:  resolvedPath,
			Message:    "child runbook does not declare an inputs/outputs interface",
		}
	}

	childResult, err := flattenRec(childRb, append(stack, resolvedPath))
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	idMap := make(map[string]string, len(childResult.Runbook.Artifacts))
	for cid := range childResult.Runbook.Artifacts {
		idMap[cid] = runbook.Namespace(childKey, uid, cid)
	}

	resolveChildRef := func(name string) (string, bool) {
		if real, ok := childResult.Aliases[name]; ok {
			name = real
		}
		nsID, ok := idMap[name]
		return nsID, ok
	}

	artifacts := make(map[string]*runbook.ArtifactDefinition, len(childResult.Runbook.Artifacts))
	for cid, cdef := range childResult.Runbook.Artifacts {
		cp := *cdef
		newInputs := make([]string, len(cp.Inputs))
		for i, ref := range cp.Inputs {
			if parentID, ok := def.Child.InputMapping[ref]; ok {
				newInputs[i] = parentID
				continue
			}
			if nsID, ok := resolveChildRef(ref); ok {
				newInputs[i] = nsID
				continue
			}
			newInputs[i] = ref
		}
		cp.Inputs = newInputs
		artifacts[idMap[cid]] = &cp
	}

	aliases := make(map[string]string)
	switch {
	case def.Child.Output != "":
		target, ok := resolveChildRef(def.Child.Output)
		if !ok {
			return nil, &runbook.FlattenError{
				ParentPath: rb.SourcePath,
				ChildPath:  resolvedPath,
				Message:    fmt.Sprintf("child_runbook.output %q does not name a known child output", def.Child.Output),
			}
		}
		aliases[childKey] = target
		markExposed(artifacts[target], def)
	default:
		for parentFacing, childOut := range def.Child.OutputMapping {
			target, ok := resolveChildRef(childOut)
			if !ok {
				return nil, &runbook.FlattenError{
					ParentPath: rb.SourcePath,
					ChildPath:  resolvedPath,
					Message:    fmt.Sprintf("child_runbook.output_mapping %q does not name a known child output", childOut),
				}
			}
			aliases[parentFacing] = target
			markExposed(artifacts[target], def)
		}
	}

	return &inlineResult{artifacts: artifacts, aliases: aliases}, nil
}

// markExposed propagates the inclusion site's Output/Optional markers onto
// the concrete artifact an alias now points to.
func markExposed(target *runbook.ArtifactDefinition, inclusion *runbook.ArtifactDefinition) {
	if target == nil {
		return
	}
	target.Output = target.Output || inclusion.Output
	target.Optional = target.Optional || inclusion.Optional
}

// rewriteReferences replaces any artifact reference matching an alias key
// with the alias's resolved target, across the full merged artifact set.
func rewriteReferences(artifacts map[string]*runbook.ArtifactDefinition, aliases map[string]string) {
	if len(aliases) == 0 {
		return
	}
	for id, def := range artifacts {
		changed := false
		newInputs := make([]string, len(def.Inputs))
		for i, ref := range def.Inputs {
			if target, ok := aliases[ref]; ok {
				newInputs[i] = target
				changed = true
			} else {
				newInputs[i] = ref
			}
		}
		if changed {
			cp := *def
			cp.Inputs = newInputs
			artifacts[id] = &cp
		}
	}
}

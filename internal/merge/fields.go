package merge

import (
	"encoding/json"
	"fmt"

	"spaceforge/api/internal/space"
)

// Field access by the dot paths the diff engine reports. The path set is
// closed, so a switch keeps everything typed without reflection.

func itemField(item space.Item, path string) any {
	switch path {
	case "assetId":
		return item.AssetID
	case "assetType":
		return item.AssetType
	case "position":
		return item.Position
	case "rotation":
		return item.Rotation
	case "scale":
		return item.Scale
	case "opacity":
		return item.Opacity
	case "visible":
		return item.Visible
	case "clickable":
		return item.Clickable
	case "hoverEffect":
		return item.HoverEffect
	case "groupId":
		return item.GroupID
	case "importMetadata":
		return item.ImportMetadata
	case "customData":
		return item.CustomData
	case "objectProperties":
		return item.ObjectProperties
	}
	if item.ObjectProperties == nil {
		return nil
	}
	switch path {
	case "objectProperties.showComponents":
		return item.ObjectProperties.ShowComponents
	case "objectProperties.interactionLevel":
		return item.ObjectProperties.InteractionLevel
	case "objectProperties.lodLevel":
		return item.ObjectProperties.LODLevel
	case "objectProperties.physics":
		return item.ObjectProperties.Physics
	case "objectProperties.components":
		return item.ObjectProperties.Components
	case "objectProperties.custom":
		return item.ObjectProperties.Custom
	}
	return nil
}

func copyItemField(dst *space.Item, path string, src space.Item) {
	switch path {
	case "assetId":
		dst.AssetID = src.AssetID
		return
	case "assetType":
		dst.AssetType = src.AssetType
		return
	case "position":
		dst.Position = src.Position
		return
	case "rotation":
		dst.Rotation = src.Rotation
		return
	case "scale":
		dst.Scale = src.Scale
		return
	case "opacity":
		dst.Opacity = src.Opacity
		return
	case "visible":
		dst.Visible = src.Visible
		return
	case "clickable":
		dst.Clickable = src.Clickable
		return
	case "hoverEffect":
		dst.HoverEffect = src.HoverEffect
		return
	case "groupId":
		dst.GroupID = src.GroupID
		return
	case "importMetadata":
		dst.ImportMetadata = src.ImportMetadata
		return
	case "customData":
		dst.CustomData = src.CustomData
		return
	case "objectProperties":
		dst.ObjectProperties = src.ObjectProperties
		return
	}
	if src.ObjectProperties == nil {
		return
	}
	if dst.ObjectProperties == nil {
		dst.ObjectProperties = &space.ObjectProperties{}
	}
	switch path {
	case "objectProperties.showComponents":
		dst.ObjectProperties.ShowComponents = src.ObjectProperties.ShowComponents
	case "objectProperties.interactionLevel":
		dst.ObjectProperties.InteractionLevel = src.ObjectProperties.InteractionLevel
	case "objectProperties.lodLevel":
		dst.ObjectProperties.LODLevel = src.ObjectProperties.LODLevel
	case "objectProperties.physics":
		dst.ObjectProperties.Physics = src.ObjectProperties.Physics
	case "objectProperties.components":
		dst.ObjectProperties.Components = src.ObjectProperties.Components
	case "objectProperties.custom":
		dst.ObjectProperties.Custom = src.ObjectProperties.Custom
	}
}

// setItemFieldValue writes a caller-supplied resolution value into the typed
// slot for path. Values arrive as untyped JSON, so they go through a marshal
// round trip into the field's type.
func setItemFieldValue(dst *space.Item, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode resolution value for %s: %w", path, err)
	}
	into := func(target any) error {
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("apply resolution value at %s: %w", path, err)
		}
		return nil
	}
	switch path {
	case "assetId":
		return into(&dst.AssetID)
	case "assetType":
		return into(&dst.AssetType)
	case "position":
		return into(&dst.Position)
	case "rotation":
		return into(&dst.Rotation)
	case "scale":
		return into(&dst.Scale)
	case "opacity":
		return into(&dst.Opacity)
	case "visible":
		return into(&dst.Visible)
	case "clickable":
		return into(&dst.Clickable)
	case "hoverEffect":
		return into(&dst.HoverEffect)
	case "groupId":
		return into(&dst.GroupID)
	case "importMetadata":
		return into(&dst.ImportMetadata)
	case "customData":
		return into(&dst.CustomData)
	case "objectProperties":
		return into(&dst.ObjectProperties)
	}
	if dst.ObjectProperties == nil {
		dst.ObjectProperties = &space.ObjectProperties{}
	}
	switch path {
	case "objectProperties.showComponents":
		return into(&dst.ObjectProperties.ShowComponents)
	case "objectProperties.interactionLevel":
		return into(&dst.ObjectProperties.InteractionLevel)
	case "objectProperties.lodLevel":
		return into(&dst.ObjectProperties.LODLevel)
	case "objectProperties.physics":
		return into(&dst.ObjectProperties.Physics)
	case "objectProperties.components":
		return into(&dst.ObjectProperties.Components)
	case "objectProperties.custom":
		return into(&dst.ObjectProperties.Custom)
	}
	return fmt.Errorf("unknown item field path %q", path)
}

func environmentField(env space.Environment, field string) any {
	switch field {
	case "backgroundColor":
		return env.BackgroundColor
	case "lighting":
		return env.Lighting
	case "fog":
		return env.Fog
	case "skybox":
		return env.Skybox
	}
	return nil
}

func copyEnvironmentField(dst *space.Environment, field string, src space.Environment) {
	switch field {
	case "backgroundColor":
		dst.BackgroundColor = src.BackgroundColor
	case "lighting":
		dst.Lighting = src.Lighting
	case "fog":
		dst.Fog = src.Fog
	case "skybox":
		dst.Skybox = src.Skybox
	}
}

func setEnvironmentFieldValue(dst *space.Environment, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode resolution value for environment.%s: %w", field, err)
	}
	var target any
	switch field {
	case "backgroundColor":
		target = &dst.BackgroundColor
	case "lighting":
		target = &dst.Lighting
	case "fog":
		target = &dst.Fog
	case "skybox":
		target = &dst.Skybox
	default:
		return fmt.Errorf("unknown environment field %q", field)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("apply resolution value at environment.%s: %w", field, err)
	}
	return nil
}

func cameraField(cam space.Camera, field string) any {
	switch field {
	case "position":
		return cam.Position
	case "target":
		return cam.Target
	case "fov":
		return cam.FOV
	case "controls":
		return cam.Controls
	}
	return nil
}

func copyCameraField(dst *space.Camera, field string, src space.Camera) {
	switch field {
	case "position":
		dst.Position = src.Position
	case "target":
		dst.Target = src.Target
	case "fov":
		dst.FOV = src.FOV
	case "controls":
		dst.Controls = src.Controls
	}
}

func setCameraFieldValue(dst *space.Camera, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode resolution value for camera.%s: %w", field, err)
	}
	var target any
	switch field {
	case "position":
		target = &dst.Position
	case "target":
		target = &dst.Target
	case "fov":
		target = &dst.FOV
	case "controls":
		target = &dst.Controls
	default:
		return fmt.Errorf("unknown camera field %q", field)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("apply resolution value at camera.%s: %w", field, err)
	}
	return nil
}
